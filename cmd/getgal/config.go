package main

import (
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	"github.jpl.nasa.gov/bdube/getgal/download"
	"github.jpl.nasa.gov/bdube/getgal/pipeline"
	"github.jpl.nasa.gov/bdube/getgal/sextractor"
)

var (
	// ConfigFileName is what it sounds like.  GETGAL_CONFIG overrides it
	ConfigFileName = "getgal.yml"
	k              = koanf.New(".")
)

type downloaderConfig struct {
	// Script is called as Script RA DEC out_path
	Script string `koanf:"Script" yaml:"Script"`

	// Retries is how many times a failed download is retried
	Retries int `koanf:"Retries" yaml:"Retries"`

	// BackoffSeconds is the wait before the first retry
	BackoffSeconds float64 `koanf:"BackoffSeconds" yaml:"BackoffSeconds"`

	// TimeoutSeconds bounds one attempt, 0 for no limit
	TimeoutSeconds float64 `koanf:"TimeoutSeconds" yaml:"TimeoutSeconds"`
}

type detectorConfig struct {
	Binary         string  `koanf:"Binary" yaml:"Binary"`
	CatalogName    string  `koanf:"CatalogName" yaml:"CatalogName"`
	WorkDir        string  `koanf:"WorkDir" yaml:"WorkDir"`
	TimeoutSeconds float64 `koanf:"TimeoutSeconds" yaml:"TimeoutSeconds"`
}

type searchConfig struct {
	InitialSize   float64 `koanf:"InitialSize" yaml:"InitialSize"`
	Growth        float64 `koanf:"Growth" yaml:"Growth"`
	MinNumStars   int     `koanf:"MinNumStars" yaml:"MinNumStars"`
	StarClassProb float64 `koanf:"StarClassProb" yaml:"StarClassProb"`
}

type serveConfig struct {
	Addr string `koanf:"Addr" yaml:"Addr"`
	Root string `koanf:"Root" yaml:"Root"`

	// MinIntervalSeconds is the least time between the start of two runs, 0 for no limit
	MinIntervalSeconds float64 `koanf:"MinIntervalSeconds" yaml:"MinIntervalSeconds"`
}

type logConfig struct {
	Level string `koanf:"Level" yaml:"Level"`
	JSON  bool   `koanf:"JSON" yaml:"JSON"`
}

type config struct {
	Downloader downloaderConfig `koanf:"Downloader" yaml:"Downloader"`
	Detector   detectorConfig   `koanf:"Detector" yaml:"Detector"`
	Search     searchConfig     `koanf:"Search" yaml:"Search"`
	OutDir     string           `koanf:"OutDir" yaml:"OutDir"`
	Overwrite  bool             `koanf:"Overwrite" yaml:"Overwrite"`
	Serve      serveConfig      `koanf:"Serve" yaml:"Serve"`
	Log        logConfig        `koanf:"Log" yaml:"Log"`
}

func defaults() config {
	return config{
		Downloader: downloaderConfig{
			Script:         download.DefaultScript,
			Retries:        2,
			BackoffSeconds: 2},
		Detector: detectorConfig{
			Binary:      sextractor.DefaultBinary,
			CatalogName: sextractor.DefaultCatalog,
			WorkDir:     "."},
		Search: searchConfig{
			InitialSize:   pipeline.DefaultInitialSize,
			Growth:        pipeline.DefaultGrowth,
			MinNumStars:   10,
			StarClassProb: 0.7},
		Overwrite: true,
		Serve: serveConfig{
			Addr:               ":8000",
			Root:               "/",
			MinIntervalSeconds: 1},
		Log: logConfig{Level: "info"}}
}

func setupconfig() {
	if fn := os.Getenv("GETGAL_CONFIG"); fn != "" {
		ConfigFileName = fn
	}
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadConfig() config {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

// newLogger builds the logger described by the config, text with full
// timestamps unless JSON is requested
func newLogger(c logConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	if c.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	if err != nil {
		logger.WithField("level", c.Level).Warn("unknown log level, using info")
	}
	return logger
}
