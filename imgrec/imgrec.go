// Package imgrec owns the output folder of a run: it creates it, names the
// per-band crops inside it, records a manifest, and cleans up after the
// external tools.
package imgrec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.jpl.nasa.gov/bdube/getgal/fitsimg"
)

var (
	// ErrExists is generated when the output folder exists and may not be overwritten
	ErrExists = errors.New("output path already exists and will not be overwritten")

	// ErrNotDir is generated when the parent output directory is missing or not a directory
	ErrNotDir = errors.New("not a valid directory")
)

// Recorder writes band crops into Root.  It is not thread safe.
type Recorder struct {
	// Root is the folder of this run, <out_dir>/<name>
	Root string
}

// Target computes the folder for a galaxy without touching the filesystem
// beyond checking that outDir, if given, is an existing directory
func Target(outDir, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid galaxy name %q", name)
	}
	if outDir == "" {
		return name, nil
	}
	st, err := os.Stat(outDir)
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("%s: %w", outDir, ErrNotDir)
	}
	return filepath.Join(outDir, name), nil
}

// Exists returns true if something is already at path
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Prepare creates the folder for a run.  An existing folder is removed first
// if overwrite is true, otherwise ErrExists is returned.
func Prepare(outDir, name string, overwrite bool) (*Recorder, error) {
	root, err := Target(outDir, name)
	if err != nil {
		return nil, err
	}
	if Exists(root) {
		if !overwrite {
			return nil, fmt.Errorf("%s: %w", root, ErrExists)
		}
		if err = os.RemoveAll(root); err != nil {
			return nil, err
		}
	}
	r := &Recorder{Root: root}
	return r, r.mkDir()
}

// mkDir makes the folder
func (r *Recorder) mkDir() error {
	return os.Mkdir(r.Root, 0777)
}

// BandPath is the path of the crop for a band
func (r *Recorder) BandPath(band string) string {
	return filepath.Join(r.Root, band+".fits")
}

// RemoveCrops deletes the crop of every band, ignoring those not yet written
func (r *Recorder) RemoveCrops() error {
	for _, b := range fitsimg.Bands {
		err := os.Remove(r.BandPath(b))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// RemoveFrames deletes the downloaded frame files, every file with "frame" in
// its name, and returns how many were removed.  Removal errors are skipped.
func (r *Recorder) RemoveFrames() (int, error) {
	names, err := r.names()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, name := range names {
		if !strings.Contains(name, "frame") {
			continue
		}
		if os.Remove(filepath.Join(r.Root, name)) == nil {
			n++
		}
	}
	return n, nil
}

// CountFits counts the files with ".fits" in their name
func (r *Recorder) CountFits() int {
	names, _ := r.names()
	n := 0
	for _, name := range names {
		if strings.Contains(name, ".fits") {
			n++
		}
	}
	return n
}

// RemoveAll deletes the folder and everything in it
func (r *Recorder) RemoveAll() error {
	return os.RemoveAll(r.Root)
}

func (r *Recorder) names() ([]string, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// IsCoreDump returns true for the names the kernel gives core files, "core"
// and "core.<pid>"
func IsCoreDump(name string) bool {
	if name == "core" {
		return true
	}
	if !strings.HasPrefix(name, "core.") {
		return false
	}
	_, err := strconv.Atoi(name[len("core."):])
	return err == nil
}

// RemoveCoreDumps deletes core files left in dir by a crashed external tool
// and returns the names removed.  Files that cannot be removed are skipped.
func RemoveCoreDumps(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	removed := []string{}
	for _, e := range entries {
		if e.IsDir() || !IsCoreDump(e.Name()) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed = append(removed, e.Name())
		}
	}
	return removed, nil
}
