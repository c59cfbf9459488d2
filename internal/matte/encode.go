package matte

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
)

const pngDataURIPrefix = "data:image/png;base64,"

var ErrDataURL = errors.New("invalid data url")

// EncodePNG losslessly encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return out.Bytes(), nil
}

// Encode serializes img as a base64 PNG data URI.
func Encode(img image.Image) (string, error) {
	raw, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return PNGDataURI(raw), nil
}

// PNGDataURI wraps already-encoded PNG bytes in a base64 data URI.
func PNGDataURI(raw []byte) string {
	return pngDataURIPrefix + base64.StdEncoding.EncodeToString(raw)
}

// ParseDataURL decodes a base64 data URL and checks its declared mime type
// against both allowedMimes and the sniffed content.
func ParseDataURL(value string, allowedMimes []string, maxBytes int) ([]byte, string, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil, "", fmt.Errorf("%w: empty data url", ErrDataURL)
	}
	if !strings.HasPrefix(raw, "data:") {
		return nil, "", fmt.Errorf("%w: invalid data url prefix", ErrDataURL)
	}
	comma := strings.Index(raw, ",")
	if comma <= 5 {
		return nil, "", fmt.Errorf("%w: invalid data url payload", ErrDataURL)
	}
	meta := raw[5:comma]
	payload := raw[comma+1:]
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, "", fmt.Errorf("%w: data url must be base64", ErrDataURL)
	}
	mime := strings.TrimSpace(meta[:len(meta)-len(";base64")])
	if mime == "" {
		return nil, "", fmt.Errorf("%w: missing data url mime type", ErrDataURL)
	}
	if len(allowedMimes) > 0 {
		ok := false
		for _, allowed := range allowedMimes {
			if strings.EqualFold(strings.TrimSpace(allowed), mime) {
				ok = true
				break
			}
		}
		if !ok {
			return nil, "", fmt.Errorf("%w (data url declares %s)", ErrUnsupported, mime)
		}
	}
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+2 {
		return nil, "", ErrTooLarge
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: unable to decode data url", ErrDataURL)
	}
	if len(decoded) == 0 {
		return nil, "", ErrEmpty
	}
	if maxBytes > 0 && len(decoded) > maxBytes {
		return nil, "", ErrTooLarge
	}
	detected := DetectMime(decoded)
	if !strings.EqualFold(detected, mime) {
		return nil, "", fmt.Errorf("%w: data url mime does not match content", ErrDataURL)
	}
	return decoded, detected, nil
}
