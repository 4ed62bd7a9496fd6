// Package download invokes the field downloader script and loads its output.
package download

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.jpl.nasa.gov/bdube/getgal/extproc"
	"github.jpl.nasa.gov/bdube/getgal/fitsimg"

	"github.com/sirupsen/logrus"
)

// ErrDownloadFailure is generated when the downloader exits nonzero or its
// output cannot be used
var ErrDownloadFailure = errors.New("field download failed")

// DefaultScript is the downloader invoked when Downloader.Script is empty
const DefaultScript = "./downloadFields.sh"

// Downloader calls `Script RA DEC out_path`, which is expected to leave one
// FITS file per band in out_path
type Downloader struct {
	// Script is the downloader executable
	Script string

	// Retries is how many times a failed download is reattempted
	Retries int

	// Backoff is the wait before the first retry; it doubles after that
	Backoff time.Duration

	// Timeout bounds each attempt, zero for none
	Timeout time.Duration

	Runner extproc.Runner
	Log    logrus.FieldLogger
}

// Fetch downloads the fields for (ra, dec) into outPath and opens them.  The
// fields are ordered by band when the file names identify it, and by file
// name otherwise.  The caller owns the returned fields and must close them.
func (d Downloader) Fetch(ctx context.Context, ra, dec, outPath string) ([]*fitsimg.Field, error) {
	script := d.Script
	if script == "" {
		script = DefaultScript
	}
	log := d.logger().WithField("path", outPath)
	log.Info("downloading fields")

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			if err := clearFiles(outPath); err != nil {
				return err
			}
		}
		return d.Runner.Run(ctx, extproc.Command{
			Name:    script,
			Args:    []string{ra, dec, outPath},
			Timeout: d.Timeout})
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("wait", wait).Warn("download failed, retrying")
	}
	err := extproc.Retry(ctx, d.Retries, d.Backoff, op, notify)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailure, err)
	}

	fields, err := Load(outPath)
	if err != nil {
		return nil, err
	}
	log.WithField("count", len(fields)).Info("finished downloading field images")
	return fields, nil
}

func (d Downloader) logger() logrus.FieldLogger {
	if d.Log == nil {
		l := logrus.New()
		l.SetOutput(ioutil.Discard)
		return l
	}
	return d.Log
}

// Load opens every regular file in dir as a field image, in file name order,
// then moves them into band order if every band is identified by name.
// Fewer than one image per band is an ErrDownloadFailure.
func Load(dir string) ([]*fitsimg.Field, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailure, err)
	}
	fields := []*fitsimg.Field{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		f, err := fitsimg.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			CloseAll(fields)
			return nil, fmt.Errorf("%w: %v", ErrDownloadFailure, err)
		}
		f.Band = fitsimg.BandFromName(e.Name())
		fields = append(fields, f)
	}
	if len(fields) < len(fitsimg.Bands) {
		CloseAll(fields)
		return nil, fmt.Errorf("%w: expected %d field images, found %d", ErrDownloadFailure, len(fitsimg.Bands), len(fields))
	}
	return byBand(fields), nil
}

// byBand puts one field per band first, in canonical band order, followed by
// anything else.  If any band is missing the input order is kept.
func byBand(fields []*fitsimg.Field) []*fitsimg.Field {
	first := map[string]int{}
	for i, f := range fields {
		if _, ok := first[f.Band]; !ok && f.Band != "" {
			first[f.Band] = i
		}
	}
	if len(first) != len(fitsimg.Bands) {
		return fields
	}
	out := make([]*fitsimg.Field, 0, len(fields))
	used := map[int]bool{}
	for _, b := range fitsimg.Bands {
		out = append(out, fields[first[b]])
		used[first[b]] = true
	}
	for i, f := range fields {
		if !used[i] {
			out = append(out, f)
		}
	}
	return out
}

// CloseAll closes every field, returning the first error
func CloseAll(fields []*fitsimg.Field) error {
	var first error
	for _, f := range fields {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func clearFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
