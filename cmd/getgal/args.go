package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.jpl.nasa.gov/bdube/getgal/pipeline"
)

var errUsage = errors.New("usage: getgal RA DEC name [-out_dir DIR] [-overwrite BOOL] [-min_num_stars N] [-star_class_prob P]")

// parseOverwrite accepts the spellings True, true, 1, False, false, 0
func parseOverwrite(s string) (bool, error) {
	switch s {
	case "True", "true", "1":
		return true, nil
	case "False", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("overwrite must be one of True, true, 1, False, false, 0, got %q", s)
}

// isNumber is true for tokens like -1.25 that must not be taken for flags
func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// splitArgs separates flags (with their values) from positional arguments so
// the two may be interleaved, as in `getgal 150.1 -out_dir data -1.2 NGC99`
func splitArgs(args []string) (flags, pos []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			pos = append(pos, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" || isNumber(a) {
			pos = append(pos, a)
			continue
		}
		flags = append(flags, a)
		// every flag takes a value; -flag=value carries it inline
		name := strings.TrimLeft(a, "-")
		if !strings.Contains(name, "=") && name != "h" && name != "help" && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, pos
}

// parseRunArgs builds a pipeline request from the command line, with defaults
// taken from the config.  Nothing is validated beyond syntax.
func parseRunArgs(args []string, c config, usage io.Writer) (pipeline.Request, error) {
	req := pipeline.Request{}
	fs := flag.NewFlagSet("getgal", flag.ContinueOnError)
	fs.SetOutput(usage)
	outDir := fs.String("out_dir", c.OutDir, "if set then the images will be saved to out_dir/name")
	overwrite := fs.String("overwrite", strconv.FormatBool(c.Overwrite), "if true then a galaxy with the same name will be overwritten")
	minStars := fs.Int("min_num_stars", c.Search.MinNumStars, "the minimum number of stars needed in the first waveband image")
	prob := fs.Float64("star_class_prob", c.Search.StarClassProb, "the minimum probability that a detected object counts as a star, in [0, 1]")

	flags, pos := splitArgs(args)
	if err := fs.Parse(flags); err != nil {
		return req, err
	}
	if len(pos) != 3 {
		return req, errUsage
	}
	ov, err := parseOverwrite(*overwrite)
	if err != nil {
		return req, err
	}
	req = pipeline.Request{
		RA:            pos[0],
		DEC:           pos[1],
		Name:          pos[2],
		OutDir:        *outDir,
		Overwrite:     ov,
		MinNumStars:   *minStars,
		StarClassProb: *prob}
	return req, nil
}
