// Package bundle writes processed badge thumbnails into a tar.xz archive.
package bundle

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ulikunitz/xz"
)

var ErrClosed = errors.New("bundle is closed")

// Writer streams PNG entries into an xz-compressed tar archive. Entry names
// are flattened to "<slug>.png"; repeated slugs get a numeric suffix.
type Writer struct {
	xzw    *xz.Writer
	tw     *tar.Writer
	names  map[string]int
	count  int
	closed bool
}

func NewWriter(w io.Writer) (*Writer, error) {
	xzw, err := xz.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("create xz writer: %w", err)
	}
	return &Writer{
		xzw:   xzw,
		tw:    tar.NewWriter(xzw),
		names: make(map[string]int),
	}, nil
}

// Add writes data under a name derived from name and returns the archive
// path it was stored at.
func (b *Writer) Add(name string, data []byte, modTime time.Time) (string, error) {
	if b.closed {
		return "", ErrClosed
	}
	entryName := b.uniqueName(Slug(name))
	hdr := &tar.Header{
		Name:    entryName,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: modTime.UTC().Truncate(time.Second),
		Format:  tar.FormatPAX,
	}
	if err := b.tw.WriteHeader(hdr); err != nil {
		return "", fmt.Errorf("write header %s: %w", entryName, err)
	}
	if _, err := b.tw.Write(data); err != nil {
		return "", fmt.Errorf("write %s: %w", entryName, err)
	}
	b.count++
	return entryName, nil
}

// Len reports how many entries have been added.
func (b *Writer) Len() int {
	return b.count
}

// Close flushes the tar trailer and the xz stream. It does not close the
// underlying writer.
func (b *Writer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.tw.Close(); err != nil {
		_ = b.xzw.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := b.xzw.Close(); err != nil {
		return fmt.Errorf("close xz: %w", err)
	}
	return nil
}

func (b *Writer) uniqueName(slug string) string {
	b.names[slug]++
	n := b.names[slug]
	if n == 1 {
		return slug + ".png"
	}
	candidate := slug + "-" + strconv.Itoa(n)
	for b.names[candidate] > 0 {
		n++
		candidate = slug + "-" + strconv.Itoa(n)
	}
	b.names[candidate] = 1
	return candidate + ".png"
}

// Slug lowercases name and keeps letters and digits, joining runs of
// anything else with a single hyphen. An empty result becomes "badge".
func Slug(name string) string {
	name = strings.TrimSuffix(name, ".png")
	var sb strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	if sb.Len() == 0 {
		return "badge"
	}
	return sb.String()
}
