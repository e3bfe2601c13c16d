// Package upload turns photo bytes into a public URL. Every failure is
// reported as ErrUploadFailed; callers treat it as "no picture".
package upload

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUploadFailed  = errors.New("upload failed")
	ErrNotConfigured = fmt.Errorf("%w: object storage not configured", ErrUploadFailed)
)

// Image is the payload handed to an Uploader.
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Uploader stores an image and returns a stable URL for it.
type Uploader interface {
	Upload(ctx context.Context, img Image) (string, error)
}

// Unconfigured fails every upload. It is used when no credentials are set.
type Unconfigured struct{}

func (Unconfigured) Upload(context.Context, Image) (string, error) {
	return "", ErrNotConfigured
}
