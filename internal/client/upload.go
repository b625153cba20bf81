package client

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Upload is a file attached to an outgoing message.
// Open is called once per send attempt so a failed send can be retried.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FileUpload prepares a file on disk for upload, sniffing its MIME type.
func FileUpload(path string) (Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Upload{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return Upload{}, fmt.Errorf("attachment %s is a directory", path)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Upload{}, fmt.Errorf("detect attachment type: %w", err)
	}

	return Upload{
		Name:        filepath.Base(path),
		ContentType: mtype.String(),
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// BytesUpload prepares in-memory content for upload.
func BytesUpload(name string, data []byte) Upload {
	return Upload{
		Name:        name,
		ContentType: mimetype.Detect(data).String(),
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
