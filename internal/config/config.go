// Package config is the configuration-loading collaborator spec.md
// names at the protocol engine's interface and explicitly places out
// of the engine's own scope. It reads the handful of knobs in
// [ftp.Config] from a YAML file, independent of the engine, so
// cmd/ftpc can offer a --config flag without the core package ever
// importing a file format.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of an ftp client configuration file.
// Field names mirror ftp.Config; cmd/ftpc converts a File into an
// ftp.Config after load.
type File struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	BaseDirectory string `yaml:"base_directory"`
	UsePassive    *bool  `yaml:"use_passive"`
	Encryption    string `yaml:"encryption"` // "none" | "implicit" | "explicit"
	IPVersion     string `yaml:"ip_version"` // "any" | "v4" | "v6"
	TrustAllCerts bool   `yaml:"ignore_certificate_errors"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
	Mode          string `yaml:"mode"` // "ASCII" | "Binary"
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}
