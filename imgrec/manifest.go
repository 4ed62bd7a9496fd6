package imgrec

import (
	"os"
	"path/filepath"
	"time"

	"github.jpl.nasa.gov/bdube/getgal/fitsimg"

	"gopkg.in/yaml.v2"
)

// ManifestName is the file name of the manifest inside a run folder
const ManifestName = "manifest.yml"

// BandRecord summarizes the crop of one band
type BandRecord struct {
	Band   string         `yaml:"band" json:"band"`
	Source string         `yaml:"source" json:"source"`
	Path   string         `yaml:"path" json:"path"`
	Center fitsimg.Center `yaml:"center" json:"center"`
	Shape  []int          `yaml:"shape" json:"shape"`
	Mean   float64        `yaml:"mean" json:"mean"`
	StdDev float64        `yaml:"stddev" json:"stddev"`
}

// Manifest summarizes a run
type Manifest struct {
	Name     string       `yaml:"name" json:"name"`
	RA       string       `yaml:"ra" json:"ra"`
	DEC      string       `yaml:"dec" json:"dec"`
	CropSize float64      `yaml:"crop_size" json:"crop_size"`
	Stars    int          `yaml:"stars" json:"stars"`
	Recrop   bool         `yaml:"recropped" json:"recropped"`
	Created  time.Time    `yaml:"created" json:"created"`
	Bands    []BandRecord `yaml:"bands" json:"bands"`
}

// WriteManifest stores m in the run folder
func (r *Recorder) WriteManifest(m Manifest) error {
	f, err := os.Create(filepath.Join(r.Root, ManifestName))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	if err = enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// ReadManifest loads the manifest of the run folder root
func ReadManifest(root string) (Manifest, error) {
	m := Manifest{}
	f, err := os.Open(filepath.Join(root, ManifestName))
	if err != nil {
		return m, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&m)
	return m, err
}
