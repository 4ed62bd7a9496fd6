// Package server exposes the pipeline over HTTP.
//
// Routes, relative to wherever the router is mounted:
//
//	POST /galaxy                run the pipeline, JSON request, manifest reply
//	GET  /galaxy/{name}         the manifest of a finished run
//	GET  /galaxy/{name}/{band}  the crop of one band, as image/fits
//	GET  /lock                  {"bool": true} while a run is in progress
//	GET  /list-of-routes        the routes above
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"

	"github.jpl.nasa.gov/bdube/getgal/download"
	"github.jpl.nasa.gov/bdube/getgal/fitsimg"
	"github.jpl.nasa.gov/bdube/getgal/imgrec"
	"github.jpl.nasa.gov/bdube/getgal/pipeline"
	"github.jpl.nasa.gov/bdube/getgal/sextractor"
	"github.jpl.nasa.gov/bdube/getgal/server/middleware/locker"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Runner runs one galaxy through the pipeline
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (imgrec.Manifest, error)
}

// Server holds what the HTTP handlers need
type Server struct {
	// Pipeline processes requests
	Pipeline Runner

	// OutDir is the parent folder of every run, requests cannot choose it
	OutDir string

	// Defaults fills the fields a request body leaves out
	Defaults pipeline.Request

	// Limiter, if not nil, bounds how often runs may start
	Limiter *rate.Limiter

	Lock *locker.Locker
	Log  logrus.FieldLogger
}

// ReplyWithFile replies to the client request by serving the given file name
func (s *Server) ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := filepath.Abs(filepath.Join(fldr, fn))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		s.logger().Error(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		s.logger().Error(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// routeList is what /list-of-routes reports
var routeList = []string{
	"POST /galaxy",
	"GET /galaxy/{name}",
	"GET /galaxy/{name}/{band}",
	"GET /lock",
	"GET /list-of-routes",
}

// Routes builds the router for the server
func (s *Server) Routes() chi.Router {
	if s.Lock == nil {
		s.Lock = locker.New()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/lock", s.Lock.HTTPGet)
	r.Get("/list-of-routes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, routeList)
	})
	r.With(s.Lock.Check, s.limit).Post("/galaxy", s.RunGalaxy)
	r.Get("/galaxy/{name}", s.GetManifest)
	r.Get("/galaxy/{name}/{band}", s.GetBand)
	return r
}

// limit is a middleware returning 429 when runs are requested too quickly
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil && !s.Limiter.Allow() {
			http.Error(w, "runs requested too quickly", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RunGalaxy decodes a pipeline.Request and runs it
func (s *Server) RunGalaxy(w http.ResponseWriter, r *http.Request) {
	req := s.Defaults
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.OutDir = s.OutDir
	log := s.logger().WithFields(logrus.Fields{
		"name":       req.Name,
		"request_id": middleware.GetReqID(r.Context())})
	log.Info("run requested")
	m, err := s.Pipeline.Run(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		log.WithError(err).WithField("status", code).Warn("run failed")
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetManifest replies with the manifest of a finished run
func (s *Server) GetManifest(w http.ResponseWriter, r *http.Request) {
	root, err := imgrec.Target(s.OutDir, chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := imgrec.ReadManifest(root)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "no such run", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetBand serves the crop of one band
func (s *Server) GetBand(w http.ResponseWriter, r *http.Request) {
	band := chi.URLParam(r, "band")
	known := false
	for _, b := range fitsimg.Bands {
		if b == band {
			known = true
		}
	}
	if !known {
		http.Error(w, fmt.Sprintf("unknown band %q", band), http.StatusNotFound)
		return
	}
	root, err := imgrec.Target(s.OutDir, chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.ReplyWithFile(w, r, band+".fits", root)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, imgrec.ErrExists):
		return http.StatusConflict
	case errors.Is(err, download.ErrDownloadFailure), errors.Is(err, sextractor.ErrDetectionFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) logger() logrus.FieldLogger {
	if s.Log == nil {
		l := logrus.New()
		l.SetOutput(ioutil.Discard)
		return l
	}
	return s.Log
}
