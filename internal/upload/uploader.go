package upload

import (
	"context"
	"errors"
	"io"
)

var ErrUploadFailed = errors.New("upload failed")

// Uploader stores an attachment and returns the url messages refer to.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, body io.Reader) (string, error)
}
