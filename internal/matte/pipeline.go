// Package matte turns an uploaded photo into a badge thumbnail: decode, key
// out the near-white background, stretch to a fixed square, encode as a PNG
// data URI.
package matte

import (
	"image"
	"io"
)

// Result is one processed thumbnail plus what was learned about its source.
type Result struct {
	DataURI      string     `json:"dataUri"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	SourceWidth  int        `json:"sourceWidth"`
	SourceHeight int        `json:"sourceHeight"`
	KeyedPixels  int        `json:"keyedPixels"`
	Background   Background `json:"background"`
	PNG          []byte     `json:"-"`
}

// Process runs the full pipeline on raw file bytes. Every stage after decode
// is synchronous and cannot fail short of an encoder error.
func Process(raw []byte) (Result, error) {
	src, err := Decode(raw)
	if err != nil {
		return Result{}, err
	}
	return processDecoded(src)
}

// processDecoded runs the stages after decode on a buffer Decode returned.
func processDecoded(src *image.NRGBA) (Result, error) {
	bg := AnalyzeBackground(src)
	keyed := Matte(src)
	thumb := Resample(src)

	encoded, err := EncodePNG(thumb)
	if err != nil {
		return Result{}, err
	}
	size := thumb.Bounds().Size()
	return Result{
		DataURI:      PNGDataURI(encoded),
		Width:        size.X,
		Height:       size.Y,
		SourceWidth:  src.Bounds().Dx(),
		SourceHeight: src.Bounds().Dy(),
		KeyedPixels:  keyed,
		Background:   bg,
		PNG:          encoded,
	}, nil
}

// ProcessReader is Process over a stream read through DecodeReader.
func ProcessReader(r io.Reader) (Result, error) {
	src, err := DecodeReader(r)
	if err != nil {
		return Result{}, err
	}
	return processDecoded(src)
}
