package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Style is the declarative layer configuration: which per-layer geometric
// post-processing runs when a tile is assembled.
type Style struct {
	Layers []LayerStyle `yaml:"layers"`
}

// LayerStyle defines post-processing rules for one named layer.
type LayerStyle struct {
	Name string `yaml:"name"`

	// MergeLines joins connected line segments sharing attributes.
	MergeLines *MergeLinesRule `yaml:"merge_lines,omitempty"`
	// MergePolygons unions polygons that are close to each other.
	MergePolygons *MergePolygonsRule `yaml:"merge_polygons,omitempty"`
}

// MergeLinesRule configures line merging for a layer.
type MergeLinesRule struct {
	MinLength float64 `yaml:"min_length"`
	Tolerance float64 `yaml:"tolerance"`
	Clip      float64 `yaml:"clip"`
}

// MergePolygonsRule configures polygon merging for a layer.
type MergePolygonsRule struct {
	MinArea float64 `yaml:"min_area"`
	MinDist float64 `yaml:"min_dist"`
	Buffer  float64 `yaml:"buffer"`
}

// LoadStyle loads a layer style configuration from a YAML file
func LoadStyle(path string) (*Style, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var s Style
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}

	for i, layer := range s.Layers {
		if layer.Name == "" {
			return nil, fmt.Errorf("style layer %d has no name", i)
		}
	}
	return &s, nil
}

// Layer returns the style for a named layer, or nil if none is declared.
func (s *Style) Layer(name string) *LayerStyle {
	for i := range s.Layers {
		if s.Layers[i].Name == name {
			return &s.Layers[i]
		}
	}
	return nil
}
