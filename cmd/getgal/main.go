package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.jpl.nasa.gov/bdube/getgal/download"
	"github.jpl.nasa.gov/bdube/getgal/extproc"
	"github.jpl.nasa.gov/bdube/getgal/imgrec"
	"github.jpl.nasa.gov/bdube/getgal/pipeline"
	"github.jpl.nasa.gov/bdube/getgal/server"
	"github.jpl.nasa.gov/bdube/getgal/sextractor"
	"github.jpl.nasa.gov/bdube/getgal/util"

	"github.com/go-chi/chi"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"
	"golang.org/x/time/rate"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "3"
)

func root() {
	str := `getgal downloads the five waveband field images around a galaxy and crops
them to the smallest common size holding enough stars for calibration.

Usage:
	getgal RA DEC name [-out_dir DIR] [-overwrite BOOL] [-min_num_stars N] [-star_class_prob P]
	getgal <command>

Commands:
	serve
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `getgal is amenable to configuration via its .yaml file, getgal.yml in the working
directory or the file named by $GETGAL_CONFIG.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  The command mkconf
generates the configuration file with the default values; conf prints the
configuration in effect.  Command line flags override the file.

The downloader (Downloader.Script, default ./downloadFields.sh) is called as
	<script> RA DEC out_path
and must leave one FITS file per band in out_path.  Failed downloads are retried
Downloader.Retries times with an exponential backoff.

SExtractor (Detector.Binary, default sex) runs in Detector.WorkDir, which must hold
default.sex and a default.param listing CLASS_STAR as the fourth column.

The crops are written to out_dir/name/{g,i,r,u,z}.fits along with manifest.yml.
If fewer than two crops could be made the folder is removed.

serve exposes the same pipeline over HTTP at Serve.Addr:
	POST /galaxy {"ra": "150.1", "dec": "2.2", "name": "NGC99"}
	GET  /galaxy/NGC99
	GET  /galaxy/NGC99/g
Only one run is processed at a time, others get 423 Locked.`
	fmt.Println(str)
}

func mkconf() {
	c := loadConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("getgal version %v\n", Version)
}

// newSpinner returns an extproc.Indicator drawing a spinner on stdout, or nil
// when stdout is not a terminal
func newSpinner(label string) extproc.Indicator {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " " + label,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            os.Stdout,
	})
	if err != nil {
		return nil
	}
	return spinner
}

func newPipeline(c config, logger *logrus.Logger, interactive bool) *pipeline.Pipeline {
	runner := extproc.Runner{Log: logger}
	if interactive {
		runner.Indicate = newSpinner
	}
	return &pipeline.Pipeline{
		Downloader: download.Downloader{
			Script:  c.Downloader.Script,
			Retries: c.Downloader.Retries,
			Backoff: util.SecsToDuration(c.Downloader.BackoffSeconds),
			Timeout: util.SecsToDuration(c.Downloader.TimeoutSeconds),
			Runner:  runner,
			Log:     logger},
		Detector: sextractor.Detector{
			Binary:      c.Detector.Binary,
			CatalogName: c.Detector.CatalogName,
			WorkDir:     c.Detector.WorkDir,
			Timeout:     util.SecsToDuration(c.Detector.TimeoutSeconds),
			Runner:      runner,
			Log:         logger},
		InitialSize: c.Search.InitialSize,
		Growth:      c.Search.Growth,
		WorkDir:     c.Detector.WorkDir,
		Log:         logger}
}

// run processes the galaxy named on the command line and returns the exit code
func run(args []string) int {
	c := loadConfig()
	logger := newLogger(c.Log)
	req, err := parseRunArgs(args, c, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// reject bad input before anything is created
	if _, _, err = req.Validate(); err != nil {
		logger.Error(err)
		return 1
	}
	target, err := imgrec.Target(req.OutDir, req.Name)
	if err != nil {
		logger.Error(err)
		return 1
	}
	if imgrec.Exists(target) && !req.Overwrite {
		logger.Errorf("%s already exists and will not be overwritten", target)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	p := newPipeline(c, logger, true)
	m, err := p.Run(ctx, req)
	if err != nil {
		logger.WithError(err).Error("run failed")
		return 1
	}
	logger.WithFields(logrus.Fields{
		"path":  target,
		"stars": m.Stars,
		"size":  m.Bands[0].Shape[0]}).Info("done")
	return 0
}

// sanitizeRoot makes sure r begins with a slash and does not end with one,
// "/" itself excepted
func sanitizeRoot(r string) string {
	r = strings.TrimSuffix(r, "*")
	r = strings.Trim(r, "/")
	return "/" + r
}

func serve() {
	c := loadConfig()
	logger := newLogger(c.Log)
	s := &server.Server{
		Pipeline: newPipeline(c, logger, false),
		OutDir:   c.OutDir,
		Defaults: pipeline.Request{
			Overwrite:     c.Overwrite,
			MinNumStars:   c.Search.MinNumStars,
			StarClassProb: c.Search.StarClassProb},
		Log: logger}
	if iv := util.SecsToDuration(c.Serve.MinIntervalSeconds); iv > 0 {
		s.Limiter = rate.NewLimiter(rate.Every(iv), 1)
	}

	mux := chi.NewRouter()
	root := sanitizeRoot(c.Serve.Root)
	if root == "/" {
		mux.Mount("/", s.Routes())
	} else {
		mux.Mount(root, s.Routes())
	}
	logger.WithFields(logrus.Fields{"addr": c.Serve.Addr, "root": root}).Info("now listening for requests")
	log.Fatal(http.ListenAndServe(c.Serve.Addr, mux))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		os.Exit(1)
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help", "-h", "-help", "--help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "version":
		pversion()
		return
	case "serve":
		serve()
		return
	default:
		os.Exit(run(args[1:]))
	}
}
