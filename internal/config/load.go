package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a profile file. Files ending in .json are decoded as JSON,
// everything else as YAML. ${VAR} references are expanded from the process
// environment before decoding so credentials stay out of the files. Bare
// $name is left alone, so date layouts and passwords containing '$' survive.
func Load(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return Decode(raw, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Decode parses profile bytes and applies defaults.
func Decode(raw []byte, isJSON bool) (Profile, error) {
	expanded := expandEnv(string(raw))

	var p Profile
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Profile{}, fmt.Errorf("decode profile json: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return Profile{}, fmt.Errorf("decode profile yaml: %w", err)
		}
	}
	p.Defaults()
	return p, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with its value, or "" when unset.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}
