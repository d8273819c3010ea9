package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ToMap converts cfg to its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every config value as sorted dot-separated entries,
// optionally with secrets masked. Unset optional fields are listed empty.
func ListValues(cfg *Config, mask bool) ([]Entry, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range Keys() {
		if _, ok := lookup(m, key); !ok {
			assign(m, key, "")
		}
	}
	entries := Flatten(m)
	if mask {
		for i := range entries {
			if entries[i].Secret {
				entries[i].Value = Mask(entries[i].Value)
			}
		}
	}
	return entries, nil
}

// GetValue returns the value stored under the dot-separated key in the
// config file at path. Known keys missing from the file read as "".
func GetValue(path, key string) (any, error) {
	if _, ok := lookupField(key); !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := lookup(raw, key)
	if !ok {
		return "", nil
	}
	return v, nil
}

// SetValue updates a single dot-separated key in the config file at path.
// The value is parsed according to the field's type. The file must already
// exist.
func SetValue(path, key, value string) error {
	f, ok := lookupField(key)
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	parsed, err := parseValue(f, value)
	if err != nil {
		return err
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	assign(raw, key, parsed)

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, Default()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}
