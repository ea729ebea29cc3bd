// Package config loads optional geometry overrides from a YAML file,
// grounded on dswarbrick-smart's drivedb YAML-based configuration
// loading convention (a small struct, unmarshalled with gopkg.in/yaml.v2,
// overlaid on top of compiled-in defaults rather than replacing them).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// GeometryOverride holds the subset of embedsched.Geometry fields an
// operator may want to override per build target without recompiling.
// Zero-valued fields are left at the caller's default.
type GeometryOverride struct {
	Channels          int    `yaml:"channels"`
	WaysPerChannel    int    `yaml:"ways_per_channel"`
	SectorsPerPage    int    `yaml:"sectors_per_page"`
	SectorSize        int    `yaml:"sector_size"`
	PagesPerBlock     int    `yaml:"pages_per_block"`
	BlocksPerLun      int    `yaml:"blocks_per_lun"`
	CellMode          string `yaml:"cell_mode"` // "slc" or "mlc"
	RetryLimit        int    `yaml:"retry_limit"`
	BitErrorThreshold int    `yaml:"bit_error_threshold"`
	TransBufEntries   int    `yaml:"trans_buf_entries"`
}

// LoadGeometryOverride reads and parses a YAML geometry override file.
// A file that cannot be read is an error; LoadGeometry only skips the
// call (keeping its base geometry) when path is empty.
func LoadGeometryOverride(path string) (*GeometryOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geometry override %s: %w", path, err)
	}

	var override GeometryOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse geometry override %s: %w", path, err)
	}
	return &override, nil
}
