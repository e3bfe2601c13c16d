package upload

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"

	"github.com/nfnt/resize"
)

// Resizing downsizes photos wider than MaxWidth before delegating to Next.
// Images it cannot decode are passed through untouched.
type Resizing struct {
	Next     Uploader
	MaxWidth uint
	Log      *slog.Logger
}

// NewResizing wraps next. A zero maxWidth disables resizing.
func NewResizing(next Uploader, maxWidth uint, log *slog.Logger) Uploader {
	if maxWidth == 0 {
		return next
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resizing{Next: next, MaxWidth: maxWidth, Log: log}
}

func (r *Resizing) Upload(ctx context.Context, img Image) (string, error) {
	if shrunk, ok := r.shrink(img); ok {
		img = shrunk
	}
	return r.Next.Upload(ctx, img)
}

func (r *Resizing) shrink(img Image) (Image, bool) {
	// GIFs keep their animation frames only when left alone.
	if img.ContentType == "image/gif" {
		return img, false
	}

	decoded, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		r.Log.Debug("[upload] skip resize, decode failed", "error", err)
		return img, false
	}
	if uint(decoded.Bounds().Dx()) <= r.MaxWidth {
		return img, false
	}

	resized := resize.Resize(r.MaxWidth, 0, decoded, resize.Lanczos3)

	var buf bytes.Buffer
	contentType := "image/jpeg"
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
		contentType = "image/png"
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		r.Log.Warn("[upload] resize encode failed", "error", err)
		return img, false
	}

	r.Log.Debug("[upload] resized photo", "from", decoded.Bounds().Dx(), "to", r.MaxWidth, "bytes", buf.Len())
	return Image{Data: buf.Bytes(), ContentType: contentType, Filename: img.Filename}, true
}
