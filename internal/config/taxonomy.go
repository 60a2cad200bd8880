package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Taxonomy is the operator-supplied classification framework. The pipeline
// treats Instructions as an opaque blob passed through to the classifier;
// Categories is the closed set valid analysis results must draw from.
type Taxonomy struct {
	Categories   []string `yaml:"categories"`
	Instructions string   `yaml:"instructions"`
}

// LoadTaxonomy parses a taxonomy file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read taxonomy %s", path)
	}

	var tax Taxonomy
	if err := yaml.Unmarshal(data, &tax); err != nil {
		return nil, eris.Wrapf(err, "config: parse taxonomy %s", path)
	}

	if len(tax.Categories) == 0 {
		return nil, eris.Errorf("config: taxonomy %s declares no categories", path)
	}
	if tax.Instructions == "" {
		return nil, eris.Errorf("config: taxonomy %s has empty instructions", path)
	}
	return &tax, nil
}
