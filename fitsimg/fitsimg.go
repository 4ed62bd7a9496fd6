// Package fitsimg loads survey field images and writes cropped ones.
//
// Only the primary HDU of a file is considered, and it must be a two
// dimensional image.  Pixels are held in memory as row-major float64 values
// (x varies fastest), together with the BITPIX of the source so crops can be
// written back in the same representation.  BZERO/BSCALE are not applied; the
// cards are carried along verbatim instead.
package fitsimg

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"
)

var (
	// ErrMissingKey is generated when a header keyword required for locating
	// the galaxy is absent or not numeric
	ErrMissingKey = errors.New("header keyword missing or not numeric")

	// ErrUnsupportedImage is generated when the primary HDU is not a 2D image
	// of a known BITPIX
	ErrUnsupportedImage = errors.New("primary HDU is not a supported 2D image")
)

// Field is one waveband image of the sky field
type Field struct {
	// Path is the file the field was loaded from
	Path string

	// Band is the waveband letter, if known
	Band string

	// Bitpix is the BITPIX of the source image
	Bitpix int

	// Width and Height are NAXIS1 and NAXIS2
	Width, Height int

	// Pix holds Width*Height pixels, row-major
	Pix []float64

	cards []fitsio.Card
	file  *fitsio.File
}

// Open reads the primary image of a FITS file.  Files ending in .gz or .bz2
// are decompressed on the fly.  The returned Field must be closed.
func Open(path string) (*Field, error) {
	buf, err := readAll(path)
	if err != nil {
		return nil, err
	}
	f, err := fitsio.Open(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedImage)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 || axes[0] < 1 || axes[1] < 1 {
		f.Close()
		return nil, fmt.Errorf("%s: axes %v: %w", path, axes, ErrUnsupportedImage)
	}
	pix, err := readPixels(img, hdr.Bitpix(), axes[0]*axes[1])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cards := make([]fitsio.Card, 0, hdr.Len())
	for i := 0; i < hdr.Len(); i++ {
		cards = append(cards, *hdr.Card(i))
	}
	return &Field{
		Path:   path,
		Bitpix: hdr.Bitpix(),
		Width:  axes[0],
		Height: axes[1],
		Pix:    pix,
		cards:  cards,
		file:   f}, nil
}

// Close releases the underlying FITS file.  It is safe to call more than once.
func (f *Field) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Cards returns a copy of the header cards of the field
func (f *Field) Cards() []fitsio.Card {
	out := make([]fitsio.Card, len(f.cards))
	copy(out, f.cards)
	return out
}

// At returns the pixel at column x, row y
func (f *Field) At(x, y int) float64 {
	return f.Pix[y*f.Width+x]
}

// Float returns the value of a numeric header keyword
func (f *Field) Float(key string) (float64, error) {
	for _, c := range f.cards {
		if c.Name != key {
			continue
		}
		switch v := c.Value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			fl, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err == nil {
				return fl, nil
			}
		}
		return 0, fmt.Errorf("%s is %T: %w", key, c.Value, ErrMissingKey)
	}
	return 0, fmt.Errorf("%s: %w", key, ErrMissingKey)
}

func readAll(path string) ([]byte, error) {
	fid, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fid.Close()
	var r io.Reader = fid
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(fid)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case ".bz2":
		r = bzip2.NewReader(fid)
	}
	return ioutil.ReadAll(r)
}

// readPixels reads the image data into a float64 buffer.  fitsio requires the
// destination element size to match BITPIX, so the read goes through a slice
// of the native type first.
func readPixels(img fitsio.Image, bitpix, n int) ([]float64, error) {
	out := make([]float64, n)
	switch bitpix {
	case 8:
		buf := make([]byte, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case 16:
		buf := make([]int16, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case 32:
		buf := make([]int32, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case 64:
		buf := make([]int64, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case -32:
		buf := make([]float32, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case -64:
		if err := img.Read(&out); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("bitpix %d: %w", bitpix, ErrUnsupportedImage)
	}
	return out, nil
}
