package matte

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	"io"
	"net/http"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// MaxSourceBytes caps a single upload before decode.
const MaxSourceBytes = 10 << 20

// MaxSourcePixels caps the declared width*height of an upload, checked from
// the image header before any pixel buffer is allocated.
const MaxSourcePixels = 40_000_000

var (
	ErrEmpty       = errors.New("image is empty")
	ErrTooLarge    = errors.New("image exceeds max size")
	ErrUnsupported = errors.New("image must be png, jpeg, gif, webp, bmp, or tiff")
	ErrDecode      = errors.New("unable to decode image")
)

// SupportedMimes lists the content types Decode accepts.
var SupportedMimes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

// DetectMime sniffs raw bytes. TIFF is not in the net/http sniff table, so its
// byte-order marks are checked by hand.
func DetectMime(raw []byte) string {
	if bytes.HasPrefix(raw, []byte("II*\x00")) || bytes.HasPrefix(raw, []byte("MM\x00*")) {
		return "image/tiff"
	}
	return http.DetectContentType(raw)
}

func IsSupportedMime(mime string) bool {
	for _, allowed := range SupportedMimes {
		if strings.EqualFold(allowed, strings.TrimSpace(mime)) {
			return true
		}
	}
	return false
}

// Decode turns an uploaded file into a fresh non-premultiplied RGBA buffer at
// the file's natural size. The returned buffer is owned by the caller.
func Decode(raw []byte) (*image.NRGBA, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}
	if len(raw) > MaxSourceBytes {
		return nil, ErrTooLarge
	}
	mime := DetectMime(raw)
	if !IsSupportedMime(mime) {
		return nil, fmt.Errorf("%w (got %s)", ErrUnsupported, mime)
	}

	if err := checkDimensions(raw); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		decoded, webpErr := webp.Decode(bytes.NewReader(raw))
		if webpErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		img = decoded
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: invalid image dimensions %dx%d", ErrDecode, bounds.Dx(), bounds.Dy())
	}

	return toNRGBA(img), nil
}

// checkDimensions reads only the image header and rejects sources whose
// pixel count would exceed MaxSourcePixels once decoded.
func checkDimensions(raw []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		webpCfg, webpErr := webp.DecodeConfig(bytes.NewReader(raw))
		if webpErr != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		cfg = webpCfg
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: invalid image dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, MaxSourcePixels)
	}
	return nil
}

// toNRGBA copies img into a zero-origin NRGBA buffer. NRGBA sources are
// copied row by row so translucent pixels keep their exact channel bytes.
func toNRGBA(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		rowLen := bounds.Dx() * 4
		for y := 0; y < bounds.Dy(); y++ {
			start := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], src.Pix[start:start+rowLen])
		}
		return dst
	}
	stddraw.Draw(dst, dst.Bounds(), img, bounds.Min, stddraw.Src)
	return dst
}

// DecodeReader reads at most MaxSourceBytes+1 bytes so oversized streams are
// rejected without buffering them whole.
func DecodeReader(r io.Reader) (*image.NRGBA, error) {
	raw, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

func readLimited(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(raw) > MaxSourceBytes {
		return nil, ErrTooLarge
	}
	return raw, nil
}
