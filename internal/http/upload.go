package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/splax/placeshare/internal/apperr"
)

const (
	multipartMemory = 1 << 20
	formOverhead    = 64 << 10
)

// MediaStore is the part of the media store the HTTP layer needs.
type MediaStore interface {
	Save(r io.Reader, contentType string) (string, error)
	Discard(ref string)
	Root() string
}

// receiveImage parses a multipart request and stores its "image" part.
// The returned reference must be discarded if the request later fails.
func (r *Router) receiveImage(w http.ResponseWriter, req *http.Request) (string, error) {
	if r.opts.UploadMaxBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.opts.UploadMaxBytes+formOverhead)
	}
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", apperr.E(apperr.Validation, fmt.Sprintf("File too large, limit is %d bytes.", r.opts.UploadMaxBytes), err)
		}
		return "", apperr.E(apperr.Validation, "Invalid inputs passed, please check your data.", err)
	}
	file, header, err := req.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", apperr.E(apperr.Validation, "An image is required.", err)
		}
		return "", apperr.E(apperr.Validation, "Invalid inputs passed, please check your data.", err)
	}
	defer file.Close()
	return r.media.Save(file, header.Header.Get("Content-Type"))
}

// failUpload discards a stored upload and writes the error response.
func (r *Router) failUpload(w http.ResponseWriter, req *http.Request, ref string, err error) {
	if ref != "" {
		r.media.Discard(ref)
	}
	writeAppError(w, r.logger, req, err)
}
