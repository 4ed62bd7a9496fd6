package download

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.jpl.nasa.gov/bdube/getgal/fitsimg"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "downloadFields.sh")
	err := ioutil.WriteFile(fn, []byte("#!/bin/sh\n"+body+"\n"), 0755)
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func writeFrames(t *testing.T, bands ...string) string {
	t.Helper()
	dir := t.TempDir()
	cards := []fitsio.Card{{Name: "CRPIX1", Value: 1.0}}
	for _, b := range bands {
		fn := filepath.Join(dir, "frame-"+b+"-003918-3-0213.fits")
		if err := fitsimg.WriteFile(fn, cards, -32, make([]float64, 16), 4, 4); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestFetchLoadsFieldsInBandOrder(t *testing.T) {
	frames := writeFrames(t, "z", "u", "r", "i", "g")
	argsFile := filepath.Join(t.TempDir(), "args")
	script := writeScript(t, `echo "$1 $2" > `+argsFile+`
cp `+frames+`/* "$3"/`)
	out := t.TempDir()

	d := Downloader{Script: script}
	fields, err := d.Fetch(context.Background(), "180.5", "-1.25", out)
	if err != nil {
		t.Fatal(err)
	}
	defer CloseAll(fields)
	if len(fields) != 5 {
		t.Fatalf("expected 5 fields, got %d", len(fields))
	}
	for i, b := range fitsimg.Bands {
		if fields[i].Band != b {
			t.Errorf("field %d: expected band %s, got %s", i, b, fields[i].Band)
		}
	}
	args, _ := ioutil.ReadFile(argsFile)
	if strings.TrimSpace(string(args)) != "180.5 -1.25" {
		t.Errorf("expected the script to receive RA and DEC, got %q", args)
	}
}

func TestFetchNonzeroExit(t *testing.T) {
	script := writeScript(t, "exit 1")
	_, err := Downloader{Script: script}.Fetch(context.Background(), "1", "2", t.TempDir())
	if !errors.Is(err, ErrDownloadFailure) {
		t.Errorf("expected ErrDownloadFailure, got %v", err)
	}
}

func TestFetchRetries(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	script := writeScript(t, "echo x >> "+counter+"\nexit 1")
	d := Downloader{Script: script, Retries: 2, Backoff: time.Millisecond}
	_, err := d.Fetch(context.Background(), "1", "2", t.TempDir())
	if !errors.Is(err, ErrDownloadFailure) {
		t.Fatalf("expected ErrDownloadFailure, got %v", err)
	}
	b, _ := ioutil.ReadFile(counter)
	if n := strings.Count(string(b), "x"); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestFetchTooFewFields(t *testing.T) {
	frames := writeFrames(t, "g", "r")
	script := writeScript(t, `cp `+frames+`/* "$3"/`)
	_, err := Downloader{Script: script}.Fetch(context.Background(), "1", "2", t.TempDir())
	if !errors.Is(err, ErrDownloadFailure) {
		t.Errorf("expected ErrDownloadFailure, got %v", err)
	}
}

func TestLoadRejectsNonFits(t *testing.T) {
	dir := writeFrames(t, "g", "i", "r", "u", "z")
	if err := ioutil.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir)
	if !errors.Is(err, ErrDownloadFailure) {
		t.Errorf("expected ErrDownloadFailure, got %v", err)
	}
}

func TestLoadSkipsDirectories(t *testing.T) {
	dir := writeFrames(t, "g", "i", "r", "u", "z")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	fields, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	CloseAll(fields)
}

func TestByBand(t *testing.T) {
	in := []*fitsimg.Field{
		{Band: "g", Path: "g1"},
		{Band: "g", Path: "g2"},
		{Band: "i"}, {Band: "r"}, {Band: "u"}, {Band: "z"},
	}
	out := byBand(in)
	if out[0].Path != "g1" || out[1].Band != "i" || out[4].Band != "z" || out[5].Path != "g2" {
		t.Errorf("unexpected order %v", out)
	}
}

func TestByBandKeepsOrderWhenUnnamed(t *testing.T) {
	in := []*fitsimg.Field{{Path: "b"}, {Path: "a"}, {Band: "g"}, {}, {}}
	out := byBand(in)
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("expected input order to be kept")
		}
	}
}
