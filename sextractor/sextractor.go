// Package sextractor counts stars in an image with the SExtractor binary.
//
// SExtractor is run with its default.sex and default.param from the working
// directory.  The parameter file must list CLASS_STAR as the fourth column;
// the first four lines of the ASCII catalog are the column header.
package sextractor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.jpl.nasa.gov/bdube/getgal/extproc"

	"github.com/sirupsen/logrus"
)

const (
	// HeaderLines is the number of catalog lines skipped before the rows
	HeaderLines = 4

	// ClassColumn is the 0-based column holding the star classification probability
	ClassColumn = 3

	// DefaultBinary is the detector run when Detector.Binary is empty
	DefaultBinary = "sex"

	// DefaultCatalog is the catalog name used when Detector.CatalogName is empty
	DefaultCatalog = "star_out.txt"
)

// ErrDetectionFailure is generated for any failure running the detector or
// reading its catalog
var ErrDetectionFailure = errors.New("star detection failed")

// Detector runs `Binary image -CATALOG_NAME catalog`
type Detector struct {
	// Binary is the detector executable
	Binary string

	// CatalogName is the catalog file.  A relative name is placed next to the
	// image being evaluated.
	CatalogName string

	// WorkDir is where the detector runs, and where it finds its configuration
	WorkDir string

	// Timeout bounds each run, zero for none
	Timeout time.Duration

	Runner extproc.Runner
	Log    logrus.FieldLogger
}

// CountStars runs the detector on the image at path and counts the objects
// whose classification probability is at least prob.  The catalog is removed
// afterwards whether or not the count succeeded.
func (d Detector) CountStars(ctx context.Context, path string, prob float64) (int, error) {
	img, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDetectionFailure, err)
	}
	catalog, err := d.catalogPath(img)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDetectionFailure, err)
	}
	defer os.Remove(catalog)

	bin := d.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	err = d.Runner.Run(ctx, extproc.Command{
		Name:    bin,
		Args:    []string{img, "-CATALOG_NAME", catalog},
		Dir:     d.WorkDir,
		Timeout: d.Timeout})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDetectionFailure, err)
	}

	f, err := os.Open(catalog)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDetectionFailure, err)
	}
	defer f.Close()
	count, err := ParseCatalog(f, prob)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrDetectionFailure, catalog, err)
	}
	d.logger().WithFields(logrus.Fields{"path": path, "stars": count}).Info("stars found in the image")
	return count, nil
}

func (d Detector) catalogPath(img string) (string, error) {
	name := d.CatalogName
	if name == "" {
		name = DefaultCatalog
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	return filepath.Abs(filepath.Join(filepath.Dir(img), name))
}

func (d Detector) logger() logrus.FieldLogger {
	if d.Log == nil {
		l := logrus.New()
		l.SetOutput(ioutil.Discard)
		return l
	}
	return d.Log
}

// ParseCatalog counts catalog rows whose ClassColumn is >= prob.  The first
// HeaderLines lines are skipped and blank lines are ignored; a short row or
// a non-numeric value is an error.
func ParseCatalog(r io.Reader, prob float64) (int, error) {
	scn := bufio.NewScanner(r)
	lineno := 0
	count := 0
	for scn.Scan() {
		lineno++
		if lineno <= HeaderLines {
			continue
		}
		values := strings.Fields(scn.Text())
		if len(values) == 0 {
			continue
		}
		if len(values) <= ClassColumn {
			return 0, fmt.Errorf("line %d: %d columns, need %d", lineno, len(values), ClassColumn+1)
		}
		p, err := strconv.ParseFloat(values[ClassColumn], 64)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", lineno, err)
		}
		if p >= prob {
			count++
		}
	}
	return count, scn.Err()
}
