// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// mergeFile overlays values from a YAML config file onto s.
// Unknown keys are rejected so typos surface at startup.
func mergeFile(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
