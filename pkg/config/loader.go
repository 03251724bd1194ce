package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
)

// loadAndMerge decodes the YAML file at path on top of cfg. Keys absent from
// the file keep their current values. A missing file returns an
// os.IsNotExist error so callers can skip it.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return vberrors.Wrap(err, vberrors.ErrCodeConfigParse, "parsing YAML").WithContext("path", path)
	}

	cfg.Storage.Path = expandHomeDir(cfg.Storage.Path)
	cfg.Logging.Dir = expandHomeDir(cfg.Logging.Dir)
	return nil
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
