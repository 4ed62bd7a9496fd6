// Package pipeline fetches the field images around a galaxy and crops every
// band to a common size that contains enough stars for later calibration.
//
// The steps are strictly sequential:
//
//	download -> locate -> grow band 0 until enough stars -> crop the rest
//	-> reconcile shapes -> clean up
//
// Cleanup runs on every exit path: downloaded frames are deleted, the run
// folder is removed if fewer than two crops survived, and core files left in
// the working directory by a crashed detector are deleted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.jpl.nasa.gov/bdube/getgal/crop"
	"github.jpl.nasa.gov/bdube/getgal/download"
	"github.jpl.nasa.gov/bdube/getgal/fitsimg"
	"github.jpl.nasa.gov/bdube/getgal/imgrec"
	"github.jpl.nasa.gov/bdube/getgal/mathx"
	"github.jpl.nasa.gov/bdube/getgal/util"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultInitialSize is the crop edge length the search starts from
	DefaultInitialSize = 100.

	// DefaultGrowth is the factor the crop grows by before each attempt
	DefaultGrowth = 1.1

	// pixel statistics in the manifest keep this many significant figures
	statDigits = 6
)

// ErrInvalidArgument is generated for a request that fails validation
var ErrInvalidArgument = errors.New("invalid argument")

// Fetcher downloads the field images of a sky position into a folder
type Fetcher interface {
	Fetch(ctx context.Context, ra, dec, outPath string) ([]*fitsimg.Field, error)
}

// StarCounter counts the stars in an image file
type StarCounter interface {
	CountStars(ctx context.Context, path string, prob float64) (int, error)
}

// Request is one galaxy to process
type Request struct {
	// RA and DEC are the galaxy position in degrees, passed verbatim to the downloader
	RA  string `json:"ra"`
	DEC string `json:"dec"`

	// Name is the galaxy id, and the name of its output folder
	Name string `json:"name"`

	// OutDir is the parent of the output folder, the working directory if empty
	OutDir string `json:"-"`

	// Overwrite allows an existing output folder to be replaced
	Overwrite bool `json:"overwrite"`

	// MinNumStars is the number of stars the crop of the first band must hold
	MinNumStars int `json:"min_num_stars"`

	// StarClassProb is the classification probability an object needs to count as a star
	StarClassProb float64 `json:"star_class_prob"`
}

// Validate checks the request and parses its coordinates.  It has no side
// effects.
func (r Request) Validate() (ra, dec float64, err error) {
	if r.MinNumStars < 0 {
		return 0, 0, fmt.Errorf("%w: min_num_stars must be >= 0", ErrInvalidArgument)
	}
	if math.IsNaN(r.StarClassProb) || r.StarClassProb < 0 || r.StarClassProb > 1 {
		return 0, 0, fmt.Errorf("%w: star_class_prob must be in range [0, 1]", ErrInvalidArgument)
	}
	ra, err = strconv.ParseFloat(r.RA, 64)
	if err != nil || math.IsNaN(ra) || math.IsInf(ra, 0) {
		return 0, 0, fmt.Errorf("%w: RA %q is not a finite number", ErrInvalidArgument, r.RA)
	}
	dec, err = strconv.ParseFloat(r.DEC, 64)
	if err != nil || math.IsNaN(dec) || math.IsInf(dec, 0) {
		return 0, 0, fmt.Errorf("%w: DEC %q is not a finite number", ErrInvalidArgument, r.DEC)
	}
	if r.Name == "" {
		return 0, 0, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	return ra, dec, nil
}

// Pipeline holds the collaborators and tuning of a run
type Pipeline struct {
	Downloader Fetcher
	Detector   StarCounter

	// InitialSize is where the crop size search starts
	InitialSize float64

	// Growth is the factor applied to the size before every attempt, > 1
	Growth float64

	// WorkDir is searched for core dumps after the run, "." if empty
	WorkDir string

	Log logrus.FieldLogger
}

// Run processes one galaxy and returns the manifest of what was written
func (p *Pipeline) Run(ctx context.Context, req Request) (m imgrec.Manifest, err error) {
	ra, dec, err := req.Validate()
	if err != nil {
		return m, err
	}
	initial, growth := p.InitialSize, p.Growth
	if initial == 0 {
		initial = DefaultInitialSize
	}
	if growth == 0 {
		growth = DefaultGrowth
	}
	if initial < 2 || growth <= 1 {
		return m, fmt.Errorf("%w: initial size %g must be >= 2 and growth %g must be > 1", ErrInvalidArgument, initial, growth)
	}
	if _, err = imgrec.Target(req.OutDir, req.Name); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	rec, err := imgrec.Prepare(req.OutDir, req.Name, req.Overwrite)
	if err != nil {
		return m, err
	}
	log := p.logger().WithField("name", req.Name)
	defer p.cleanup(rec, log)

	fields, err := p.Downloader.Fetch(ctx, req.RA, req.DEC, rec.Root)
	if err != nil {
		return m, err
	}
	defer download.CloseAll(fields)
	if len(fields) < len(fitsimg.Bands) {
		return m, fmt.Errorf("%w: expected %d field images, got %d", download.ErrDownloadFailure, len(fitsimg.Bands), len(fields))
	}
	fields = fields[:len(fitsimg.Bands)]

	// store the centers in case of re-cropping
	centers := make([]fitsimg.Center, len(fields))
	for i, f := range fields {
		centers[i], err = fitsimg.Locate(f, ra, dec)
		if err != nil {
			return m, fmt.Errorf("band %s: %w", fitsimg.Bands[i], err)
		}
		log.WithFields(logrus.Fields{"band": fitsimg.Bands[i], "x": centers[i].X, "y": centers[i].Y}).Debug("located galaxy")
	}

	size, stars, first, err := p.search(ctx, fields[0], centers[0], rec.BandPath(fitsimg.Bands[0]), ra, dec, req, initial, growth, log)
	if err != nil {
		return m, err
	}
	results := []crop.Result{first}
	for i := 1; i < len(fields); i++ {
		res, err := crop.Crop(fields[i], centers[i], size, ra, dec, rec.BandPath(fitsimg.Bands[i]))
		if err != nil {
			return m, fmt.Errorf("band %s: %w", fitsimg.Bands[i], err)
		}
		results = append(results, res)
	}

	results, recropped, err := reconcile(fields, centers, results, rec, ra, dec, log)
	if err != nil {
		return m, err
	}

	m = imgrec.Manifest{
		Name:     req.Name,
		RA:       req.RA,
		DEC:      req.DEC,
		CropSize: size,
		Stars:    stars,
		Recrop:   recropped,
		Created:  time.Now().UTC()}
	for i, res := range results {
		m.Bands = append(m.Bands, imgrec.BandRecord{
			Band:   fitsimg.Bands[i],
			Source: filepath.Base(fields[i].Path),
			Path:   res.Path,
			Center: res.Center,
			Shape:  res.Shape(),
			Mean:   mathx.RoundSig(res.Mean, statDigits),
			StdDev: mathx.RoundSig(res.StdDev, statDigits)})
	}
	if err = rec.WriteManifest(m); err != nil {
		return m, err
	}
	log.WithField("shape", util.IntSliceToCSV(results[0].Shape())).Info("all bands cropped")
	return m, nil
}

// search grows the crop of the first band until it holds req.MinNumStars
// stars or can no longer grow because it reached the edge of the field.  It
// returns the size reached, which is applied unmodified to the other bands.
func (p *Pipeline) search(ctx context.Context, f *fitsimg.Field, c fitsimg.Center, path string, ra, dec float64,
	req Request, size, growth float64, log logrus.FieldLogger) (float64, int, crop.Result, error) {

	if req.MinNumStars == 0 {
		res, err := crop.Crop(f, c, size, ra, dec, path)
		return size, 0, res, err
	}
	var (
		res   crop.Result
		stars int
		err   error
	)
	for stars < req.MinNumStars {
		if err = ctx.Err(); err != nil {
			return size, stars, res, err
		}
		size *= growth
		log.WithField("size", size).Info("running detector on crop")
		res, err = crop.Crop(f, c, size, ra, dec, path)
		if err != nil {
			return size, stars, res, fmt.Errorf("band %s: %w", fitsimg.Bands[0], err)
		}
		stars, err = p.Detector.CountStars(ctx, path, req.StarClassProb)
		if err != nil {
			return size, stars, res, err
		}
		// once the image can no longer get bigger
		if res.Used < int(size/2)*2 {
			log.WithFields(logrus.Fields{"size": res.Used, "stars": stars}).Warn("crop reached the edge of the field")
			break
		}
	}
	return size, stars, res, nil
}

// reconcile re-crops every band to the smallest dimension seen if the crops
// do not all have the same shape.  Every band then has that shape, since each
// band already fit a crop at least that large around its center.
func reconcile(fields []*fitsimg.Field, centers []fitsimg.Center, results []crop.Result,
	rec *imgrec.Recorder, ra, dec float64, log logrus.FieldLogger) ([]crop.Result, bool, error) {

	same := true
	for i := 1; i < len(results); i++ {
		if !results[i].SameShape(results[0]) {
			same = false
			break
		}
	}
	if same {
		return results, false, nil
	}
	smin := results[0].Rows
	for _, r := range results {
		smin = util.MinInt(smin, r.Rows, r.Cols)
	}
	log.WithField("size", smin).Info("recropping images to a common size")
	if err := rec.RemoveCrops(); err != nil {
		return results, true, err
	}
	out := make([]crop.Result, len(results))
	for i := range results {
		res, err := crop.Crop(fields[i], centers[i], float64(smin), ra, dec, rec.BandPath(fitsimg.Bands[i]))
		if err != nil {
			return results, true, fmt.Errorf("band %s: %w", fitsimg.Bands[i], err)
		}
		out[i] = res
	}
	return out, true, nil
}

// cleanup runs whatever happened.  Its own failures are logged, not returned.
func (p *Pipeline) cleanup(rec *imgrec.Recorder, log logrus.FieldLogger) {
	n, err := rec.RemoveFrames()
	if err != nil {
		log.WithError(err).Warn("could not list output folder")
	} else {
		log.WithField("count", n).Debug("removed frame files")
	}
	if rec.CountFits() < 2 {
		log.WithField("path", rec.Root).Warn("there was an error and no wavebands could be used, removing the directory")
		if err := rec.RemoveAll(); err != nil {
			log.WithError(err).Warn("could not remove output folder")
		}
	}
	wd := p.WorkDir
	if wd == "" {
		wd = "."
	}
	removed, err := imgrec.RemoveCoreDumps(wd)
	if err != nil {
		log.WithError(err).Debug("could not scan for core dumps")
	}
	if len(removed) > 0 {
		log.WithField("files", removed).Info("removed core dumps")
	}
}

func (p *Pipeline) logger() logrus.FieldLogger {
	if p.Log == nil {
		l := logrus.New()
		l.SetOutput(ioutil.Discard)
		return l
	}
	return p.Log
}
