package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// DiskUploader writes photos under a local directory that the HTTP server
// exposes at BaseURL. Intended for development and single-host setups.
type DiskUploader struct {
	Dir     string
	BaseURL string
}

// NewDisk creates dir if needed.
func NewDisk(dir, baseURL string) (*DiskUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskUploader{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload stores the file under a random name keeping the sniffed extension.
func (u *DiskUploader) Upload(ctx context.Context, img Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	name := uuid.NewString() + mimetype.Detect(img.Data).Extension()
	if err := os.WriteFile(filepath.Join(u.Dir, name), img.Data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return u.BaseURL + "/" + name, nil
}
