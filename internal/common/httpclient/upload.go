package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/h2non/filetype"

	"github.com/textport/textport/internal/common/apperrors"
)

// UploadSpec describes a file to upload.
type UploadSpec struct {
	Filename    string
	Content     []byte
	ContentType string // sniffed from Content when empty
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadFile issues an authenticated multipart/form-data POST carrying one
// file under the "file" field. The multipart body is buffered so the same
// retry, refresh, and classification path as Request applies.
func (c *Client) UploadFile(ctx context.Context, p string, spec UploadSpec) (map[string]any, error) {
	if len(spec.Content) == 0 {
		return nil, apperrors.New("upload content is empty")
	}
	if spec.Filename == "" {
		return nil, apperrors.New("upload filename is required")
	}

	contentType := spec.ContentType
	if contentType == "" {
		if kind, err := filetype.Match(spec.Content); err == nil && kind != filetype.Unknown {
			contentType = kind.MIME.Value
		} else {
			contentType = "application/octet-stream"
		}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(spec.Filename)))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, apperrors.New("failed to build multipart body").Err(err)
	}
	if _, err := part.Write(spec.Content); err != nil {
		return nil, apperrors.New("failed to build multipart body").Err(err)
	}
	if err := w.Close(); err != nil {
		return nil, apperrors.New("failed to build multipart body").Err(err)
	}

	return c.do(ctx, http.MethodPost, p, buf.Bytes(), w.FormDataContentType(), nil, true)
}
