// Package crop cuts square sub-images centered on the galaxy out of a field.
package crop

import (
	"errors"
	"fmt"

	"github.jpl.nasa.gov/bdube/getgal/fitsimg"
	"github.jpl.nasa.gov/bdube/getgal/util"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrOutsideImage is generated when the galaxy center lies on or beyond the
// edge of the field, leaving no room for a crop
var ErrOutsideImage = errors.New("galaxy center on or outside the image edge")

// Window is a square crop region.  Rows [Y0, Y0+2*Half) and columns
// [X0, X0+2*Half) are taken.
type Window struct {
	X0, Y0 int
	Half   int
}

// Size is the edge length of the window in pixels
func (w Window) Size() int {
	return 2 * w.Half
}

// Clamp computes the crop window for a requested size, shrinking the half
// size until the window fits inside a width x height image.
func Clamp(c fitsimg.Center, size float64, width, height int) (Window, error) {
	// room on each side of the center
	half := util.MinInt(int(size/2), c.X, width-1-c.X, c.Y, height-1-c.Y)
	if half < 1 {
		return Window{}, fmt.Errorf("center (%d,%d) in %dx%d image: %w", c.X, c.Y, width, height, ErrOutsideImage)
	}
	return Window{X0: c.X - half, Y0: c.Y - half, Half: half}, nil
}

// Result describes a crop written to disk
type Result struct {
	// Path is where the crop was written
	Path string

	// Center is the galaxy position in the source field
	Center fitsimg.Center

	// Rows and Cols are the shape of the written image
	Rows, Cols int

	// Used is the edge length actually used, 2*half
	Used int

	// Mean and StdDev are pixel statistics of the crop
	Mean, StdDev float64
}

// Shape returns {rows, cols}
func (r Result) Shape() []int {
	return []int{r.Rows, r.Cols}
}

// SameShape returns true if both results have the same rows and cols
func (r Result) SameShape(o Result) bool {
	return r.Rows == o.Rows && r.Cols == o.Cols
}

// Crop cuts a size x size window (clamped to the field) around c out of f and
// writes it to path.  The header of f is carried over with the reference
// pixel moved to the crop center and the reference coordinate set to
// (ra, dec).
func Crop(f *fitsimg.Field, c fitsimg.Center, size, ra, dec float64, path string) (Result, error) {
	w, err := Clamp(c, size, f.Width, f.Height)
	if err != nil {
		return Result{}, err
	}
	n := w.Size()
	// NewDense shares f.Pix, DenseCopyOf gives a contiguous copy of the view
	field := mat.NewDense(f.Height, f.Width, f.Pix)
	sub := mat.DenseCopyOf(field.Slice(w.Y0, w.Y0+n, w.X0, w.X0+n))
	pix := sub.RawMatrix().Data

	cards := fitsimg.CleanCards(f.Cards())
	cards = fitsimg.SetCard(cards, "CRPIX1", w.Half)
	cards = fitsimg.SetCard(cards, "CRPIX2", w.Half)
	cards = fitsimg.SetCard(cards, "CRVAL1", ra)
	cards = fitsimg.SetCard(cards, "CRVAL2", dec)
	err = fitsimg.WriteFile(path, cards, f.Bitpix, pix, n, n)
	if err != nil {
		return Result{}, fmt.Errorf("writing crop %s: %w", path, err)
	}
	mean, std := stat.MeanStdDev(pix, nil)
	return Result{
		Path:   path,
		Center: c,
		Rows:   n,
		Cols:   n,
		Used:   n,
		Mean:   mean,
		StdDev: std}, nil
}
