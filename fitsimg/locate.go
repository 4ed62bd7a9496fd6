package fitsimg

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNoPixel is generated when a sky position maps to a pixel coordinate
// that is not a finite number in the range of an int32
var ErrNoPixel = errors.New("sky position has no pixel coordinate")

// Center is the pixel position of the galaxy in one band
type Center struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// Locate computes the pixel position of (ra, dec) from the linear WCS cards
// of the field.  Survey frames are stored with declination running along the
// columns, so
//
//	x = CRPIX1 - (CRVAL2 - dec) / CD2_1
//	y = CRPIX2 - (CRVAL1 - ra) / CD1_2
//
// both truncated toward zero.
func Locate(f *Field, ra, dec float64) (Center, error) {
	var (
		vals = map[string]float64{}
		keys = []string{"CRPIX1", "CRPIX2", "CRVAL1", "CRVAL2", "CD1_2", "CD2_1"}
	)
	for _, k := range keys {
		v, err := f.Float(k)
		if err != nil {
			return Center{}, err
		}
		vals[k] = v
	}
	if vals["CD2_1"] == 0 || vals["CD1_2"] == 0 {
		return Center{}, fmt.Errorf("zero pixel scale (CD1_2=%g, CD2_1=%g): %w", vals["CD1_2"], vals["CD2_1"], ErrMissingKey)
	}
	x := vals["CRPIX1"] - (vals["CRVAL2"]-dec)/vals["CD2_1"]
	y := vals["CRPIX2"] - (vals["CRVAL1"]-ra)/vals["CD1_2"]
	if !pixelRange(x) || !pixelRange(y) {
		return Center{}, fmt.Errorf("(%g, %g) maps to (%g, %g): %w", ra, dec, x, y, ErrNoPixel)
	}
	return Center{X: int(x), Y: int(y)}, nil
}

func pixelRange(v float64) bool {
	return !math.IsNaN(v) && v >= math.MinInt32 && v <= math.MaxInt32
}

// Bands are the survey wavebands, in the order their frames sort by name
var Bands = []string{"g", "i", "r", "u", "z"}

// BandFromName extracts the band letter from a survey frame file name of the
// form frame-<band>-<run>-<camcol>-<field>.fits, returning "" if the name
// does not follow that pattern
func BandFromName(name string) string {
	const prefix = "frame-"
	if !strings.HasPrefix(name, prefix) || len(name) < len(prefix)+2 || name[len(prefix)+1] != '-' {
		return ""
	}
	b := name[len(prefix) : len(prefix)+1]
	for _, band := range Bands {
		if b == band {
			return b
		}
	}
	return ""
}
