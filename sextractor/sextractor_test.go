package sextractor

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const catalog = `#   1 NUMBER                 Running object number
#   2 X_IMAGE                Object position along x                                    [pixel]
#   3 Y_IMAGE                Object position along y                                    [pixel]
#   4 CLASS_STAR             S/G classifier output
      1    102.345     88.120  0.980
      2     12.000     45.500  0.030
      3     77.900    190.010  0.700

      4     33.333     21.700  1.000
`

func TestParseCatalogThreshold(t *testing.T) {
	cases := []struct {
		prob float64
		want int
	}{
		{0, 4},
		{0.7, 3},
		{0.99, 1},
		{1.01, 0},
	}
	for _, c := range cases {
		n, err := ParseCatalog(strings.NewReader(catalog), c.prob)
		if err != nil {
			t.Fatal(err)
		}
		if n != c.want {
			t.Errorf("prob %f: expected %d stars, got %d", c.prob, c.want, n)
		}
	}
}

func TestParseCatalogHeaderOnly(t *testing.T) {
	lines := strings.Split(catalog, "\n")[:HeaderLines]
	n, err := ParseCatalog(strings.NewReader(strings.Join(lines, "\n")), 0)
	if err != nil || n != 0 {
		t.Errorf("expected 0 stars and no error, got %d, %v", n, err)
	}
}

func TestParseCatalogShortRow(t *testing.T) {
	_, err := ParseCatalog(strings.NewReader(catalog+"  5  1.0  2.0\n"), 0.5)
	if err == nil {
		t.Error("expected a short row to be an error")
	}
}

func TestParseCatalogBadNumber(t *testing.T) {
	_, err := ParseCatalog(strings.NewReader(catalog+"  5  1.0  2.0  nan?\n"), 0.5)
	if err == nil {
		t.Error("expected a non-numeric probability to be an error")
	}
}

// fakeDetector writes a script that behaves like sex: it writes body to the
// file following -CATALOG_NAME
func fakeDetector(t *testing.T, body string, exit int) string {
	t.Helper()
	dir := t.TempDir()
	cat := filepath.Join(dir, "catalog.txt")
	if err := ioutil.WriteFile(cat, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\ncp " + cat + " \"$3\"\nexit " + string(rune('0'+exit)) + "\n"
	fn := filepath.Join(dir, "sex")
	if err := ioutil.WriteFile(fn, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestCountStarsRemovesCatalog(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "g.fits")
	ioutil.WriteFile(img, []byte("not inspected by the fake"), 0644)
	d := Detector{Binary: fakeDetector(t, catalog, 0)}
	n, err := d.CountStars(context.Background(), img, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 stars, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultCatalog)); !os.IsNotExist(err) {
		t.Errorf("expected the catalog to be removed, stat gave %v", err)
	}
}

func TestCountStarsFailureRemovesCatalog(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "g.fits")
	d := Detector{Binary: fakeDetector(t, catalog, 1), CatalogName: "cat.txt"}
	_, err := d.CountStars(context.Background(), img, 0.7)
	if !errors.Is(err, ErrDetectionFailure) {
		t.Fatalf("expected ErrDetectionFailure, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cat.txt")); !os.IsNotExist(err) {
		t.Errorf("expected the catalog to be removed, stat gave %v", err)
	}
}

func TestCountStarsParseFailure(t *testing.T) {
	dir := t.TempDir()
	d := Detector{Binary: fakeDetector(t, catalog+"garbage\n", 0)}
	_, err := d.CountStars(context.Background(), filepath.Join(dir, "g.fits"), 0.7)
	if !errors.Is(err, ErrDetectionFailure) {
		t.Errorf("expected ErrDetectionFailure, got %v", err)
	}
}

func TestCountStarsMissingBinary(t *testing.T) {
	d := Detector{Binary: filepath.Join(t.TempDir(), "nope")}
	_, err := d.CountStars(context.Background(), "g.fits", 0.7)
	if !errors.Is(err, ErrDetectionFailure) {
		t.Errorf("expected ErrDetectionFailure, got %v", err)
	}
}
