package fitsimg

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
)

// structural keywords are produced by fitsio from the image shape and must
// not be carried over from a source header
var structural = map[string]bool{
	"SIMPLE":   true,
	"XTENSION": true,
	"BITPIX":   true,
	"NAXIS":    true,
	"EXTEND":   true,
	"PCOUNT":   true,
	"GCOUNT":   true,
	"END":      true,
	// checksums are invalid once the data changes
	"CHECKSUM": true,
	"DATASUM":  true,
}

// CleanCards drops structural and blank cards, and repeated keywords other
// than COMMENT and HISTORY, keeping the first occurrence
func CleanCards(cards []fitsio.Card) []fitsio.Card {
	seen := make(map[string]bool, len(cards))
	out := make([]fitsio.Card, 0, len(cards))
	for _, c := range cards {
		name := strings.ToUpper(strings.TrimSpace(c.Name))
		if name == "" || structural[name] || strings.HasPrefix(name, "NAXIS") {
			continue
		}
		if name != "COMMENT" && name != "HISTORY" {
			if seen[name] {
				continue
			}
			seen[name] = true
		}
		out = append(out, c)
	}
	return out
}

// SetCard replaces the value of the named card, appending it if absent
func SetCard(cards []fitsio.Card, name string, value interface{}) []fitsio.Card {
	for i := range cards {
		if cards[i].Name == name {
			cards[i].Value = value
			return cards
		}
	}
	return append(cards, fitsio.Card{Name: name, Value: value})
}

// WriteFits streams a fits file holding a single width x height image to w.
// pix is row-major and is converted to the representation given by bitpix.
func WriteFits(w io.Writer, metadata []fitsio.Card, bitpix int, pix []float64, width, height int) error {
	if len(pix) != width*height {
		return fmt.Errorf("%d pixels given for a %dx%d image", len(pix), width, height)
	}
	buf, err := fromFloat(bitpix, pix)
	if err != nil {
		return err
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(bitpix, []int{width, height})
	defer im.Close()
	err = im.Header().Append(CleanCards(metadata)...)
	if err != nil {
		return err
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// WriteFile writes a fits file to path, truncating anything already there
func WriteFile(path string, metadata []fitsio.Card, bitpix int, pix []float64, width, height int) error {
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	err = WriteFits(fid, metadata, bitpix, pix, width, height)
	if err2 := fid.Close(); err == nil {
		err = err2
	}
	return err
}

func fromFloat(bitpix int, pix []float64) (interface{}, error) {
	switch bitpix {
	case 8:
		out := make([]byte, len(pix))
		for i, v := range pix {
			out[i] = byte(math.Round(v))
		}
		return out, nil
	case 16:
		out := make([]int16, len(pix))
		for i, v := range pix {
			out[i] = int16(math.Round(v))
		}
		return out, nil
	case 32:
		out := make([]int32, len(pix))
		for i, v := range pix {
			out[i] = int32(math.Round(v))
		}
		return out, nil
	case 64:
		out := make([]int64, len(pix))
		for i, v := range pix {
			out[i] = int64(math.Round(v))
		}
		return out, nil
	case -32:
		out := make([]float32, len(pix))
		for i, v := range pix {
			out[i] = float32(v)
		}
		return out, nil
	case -64:
		return pix, nil
	}
	return nil, fmt.Errorf("bitpix %d: %w", bitpix, ErrUnsupportedImage)
}
