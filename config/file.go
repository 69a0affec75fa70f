package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied --config flag
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return data, nil
}

// LoadFile decodes path (.ini or .yaml/.yml) into a generic map and
// materializes it onto cfg with mapstructure. CLI
// flags parsed afterward by the caller always take precedence over values
// set here.
func LoadFile(path string, cfg *Config) error {
	raw, err := decodeFile(path)
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func decodeFile(path string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini":
		return decodeINI(path)
	case ".yaml", ".yml":
		return decodeYAML(path)
	default:
		return nil, fmt.Errorf("config: unsupported config file extension: %s", path)
	}
}

func decodeINI(path string) (map[string]any, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load ini %s: %w", path, err)
	}
	out := map[string]any{}
	for _, key := range f.Section("").Keys() {
		out[key.Name()] = key.Value()
	}
	return out, nil
}

func decodeYAML(path string) (map[string]any, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("config: parse yaml %s: %w", path, err)
	}
	return out, nil
}
