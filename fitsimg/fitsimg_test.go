package fitsimg

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"
)

func wcsCards() []fitsio.Card {
	return []fitsio.Card{
		{Name: "CRPIX1", Value: 50.0},
		{Name: "CRPIX2", Value: 40.0},
		{Name: "CRVAL1", Value: 180.0},
		{Name: "CRVAL2", Value: 2.0},
		{Name: "CD1_2", Value: 0.5},
		{Name: "CD2_1", Value: 0.25},
		{Name: "FILTER", Value: "g"},
	}
}

func ramp(w, h int) []float64 {
	pix := make([]float64, w*h)
	for i := range pix {
		pix[i] = float64(i)
	}
	return pix
}

func TestWriteThenOpenFloat32(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "frame-g.fits")
	err := WriteFile(fn, wcsCards(), -32, ramp(7, 5), 7, 5)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Open(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.Width != 7 || f.Height != 5 {
		t.Fatalf("expected 7x5 image, got %dx%d", f.Width, f.Height)
	}
	if f.Bitpix != -32 {
		t.Errorf("expected bitpix -32, got %d", f.Bitpix)
	}
	if v := f.At(3, 2); v != 17 {
		t.Errorf("expected pixel (3,2) to be 17, got %f", v)
	}
	v, err := f.Float("CRPIX1")
	if err != nil || v != 50 {
		t.Errorf("expected CRPIX1=50, got %f (%v)", v, err)
	}
}

func TestWriteThenOpenInt16(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "frame-i.fits")
	pix := []float64{-3, 0, 12, 400, 7, 8}
	err := WriteFile(fn, nil, 16, pix, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Open(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for i := range pix {
		if f.Pix[i] != pix[i] {
			t.Errorf("pixel %d mismatch, expected %f got %f", i, pix[i], f.Pix[i])
		}
	}
}

func TestOpenGzip(t *testing.T) {
	dir := t.TempDir()
	var raw bytes.Buffer
	err := WriteFits(&raw, wcsCards(), -32, ramp(4, 4), 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	fn := filepath.Join(dir, "frame-r.fits.gz")
	fid, err := os.Create(fn)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(fid)
	gz.Write(raw.Bytes())
	gz.Close()
	fid.Close()

	f, err := Open(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.Width != 4 || f.Height != 4 || f.At(3, 3) != 15 {
		t.Errorf("compressed field decoded incorrectly: %dx%d, last pixel %f", f.Width, f.Height, f.At(3, 3))
	}
}

func TestCloseTwice(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "a.fits")
	if err := WriteFile(fn, nil, -64, ramp(2, 2), 2, 2); err != nil {
		t.Fatal(err)
	}
	f, err := Open(fn)
	if err != nil {
		t.Fatal(err)
	}
	if err = f.Close(); err != nil {
		t.Fatal(err)
	}
	if err = f.Close(); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
}

func TestCleanCardsDropsStructuralAndDuplicates(t *testing.T) {
	in := []fitsio.Card{
		{Name: "SIMPLE", Value: true},
		{Name: "BITPIX", Value: -32},
		{Name: "NAXIS", Value: 2},
		{Name: "NAXIS1", Value: 10},
		{Name: "CRPIX1", Value: 1.0},
		{Name: "COMMENT", Value: "a"},
		{Name: "COMMENT", Value: "b"},
		{Name: "CRPIX1", Value: 2.0},
		{Name: "CHECKSUM", Value: "xyz"},
	}
	out := CleanCards(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 cards to survive, got %d: %v", len(out), out)
	}
	if out[0].Name != "CRPIX1" || out[0].Value != 1.0 {
		t.Errorf("expected first CRPIX1 to be kept, got %v", out[0])
	}
}

func TestSetCard(t *testing.T) {
	cards := SetCard(wcsCards(), "CRPIX1", 12)
	if cards[0].Value != 12 {
		t.Errorf("expected CRPIX1 to be replaced, got %v", cards[0].Value)
	}
	cards = SetCard(cards, "OBJECT", "gal")
	if cards[len(cards)-1].Name != "OBJECT" {
		t.Error("expected missing card to be appended")
	}
}

func TestLocate(t *testing.T) {
	f := &Field{cards: wcsCards(), Width: 100, Height: 100}
	// 2.5 deg of dec is 10 px along x, 10 deg of ra is 20 px along y
	c, err := Locate(f, 190, 4.5)
	if err != nil {
		t.Fatal(err)
	}
	if c.X != 60 || c.Y != 60 {
		t.Errorf("expected center (60,60), got (%d,%d)", c.X, c.Y)
	}
}

func TestLocateTruncatesTowardZero(t *testing.T) {
	f := &Field{cards: wcsCards()}
	c, err := Locate(f, 180.0, 2.125)
	if err != nil {
		t.Fatal(err)
	}
	if c.X != 50 {
		t.Errorf("expected 50.5 to truncate to 50, got %d", c.X)
	}
}

func TestLocateMissingKey(t *testing.T) {
	f := &Field{cards: wcsCards()[:3]}
	_, err := Locate(f, 180, 2)
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}

func TestLocateZeroScale(t *testing.T) {
	f := &Field{cards: SetCard(wcsCards(), "CD2_1", 0.0)}
	_, err := Locate(f, 180, 2)
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected zero scale to be rejected, got %v", err)
	}
}

func TestLocateUnrepresentablePixel(t *testing.T) {
	f := &Field{cards: wcsCards()}
	for _, dec := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e300, -1e300} {
		_, err := Locate(f, 180, dec)
		if !errors.Is(err, ErrNoPixel) {
			t.Errorf("dec %g: expected ErrNoPixel, got %v", dec, err)
		}
	}
}

func TestBandFromName(t *testing.T) {
	cases := map[string]string{
		"frame-g-003918-3-0213.fits.bz2": "g",
		"frame-z-003918-3-0213.fits":     "z",
		"frame-q-003918-3-0213.fits":     "",
		"frame-gg-1.fits":                "",
		"g.fits":                         "",
	}
	for name, want := range cases {
		if got := BandFromName(name); got != want {
			t.Errorf("%s: expected band %q, got %q", name, want, got)
		}
	}
}
