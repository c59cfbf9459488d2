package apiapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/phillip-england/badgephoto/internal/matte"
)

const photoField = "photo_file"

var errInvalidUpload = errors.New("invalid upload")

type dataURLUpload struct {
	ImageData string `json:"imageData"`
}

// readUpload accepts either a multipart form with a photo_file field or a
// JSON body carrying a base64 data URL.
func (s *server) readUpload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch strings.ToLower(mediaType) {
	case "application/json":
		return s.readDataURLUpload(r)
	case "multipart/form-data":
		return s.readMultipartUpload(r)
	default:
		return nil, fmt.Errorf("%w: expected multipart/form-data or application/json", errInvalidUpload)
	}
}

func (s *server) readDataURLUpload(r *http.Request) ([]byte, error) {
	// Base64 inflates by 4/3; leave room for the JSON envelope.
	limit := s.maxUploadBytes*4/3 + 4096
	r.Body = http.MaxBytesReader(nil, r.Body, limit)
	var payload dataURLUpload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, matte.ErrTooLarge
		}
		return nil, fmt.Errorf("%w: invalid json body", errInvalidUpload)
	}
	raw, _, err := matte.ParseDataURL(payload.ImageData, matte.SupportedMimes, int(s.maxUploadBytes))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *server) readMultipartUpload(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxUploadBytes+(2<<20))
	if err := r.ParseMultipartForm(s.maxUploadBytes + (2 << 20)); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, matte.ErrTooLarge
		}
		return nil, fmt.Errorf("%w: invalid upload form", errInvalidUpload)
	}
	file, _, err := r.FormFile(photoField)
	if err != nil {
		return nil, fmt.Errorf("%w: photo file is required", errInvalidUpload)
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read photo file", errInvalidUpload)
	}
	if len(raw) == 0 {
		return nil, matte.ErrEmpty
	}
	if int64(len(raw)) > s.maxUploadBytes {
		return nil, matte.ErrTooLarge
	}
	return raw, nil
}
