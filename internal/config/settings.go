package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"warden/internal/errdefs"
)

// DefaultSettings seeds a fresh install's settings document.
func DefaultSettings(version string) map[string]any {
	return map[string]any{
		"server-name": "warden server",
		"server-port": 25565,
		"max-players": 20,
		"motd":        "powered by warden " + version,
	}
}

// ReadSettings loads the settings document at path.
func ReadSettings(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFoundf("settings file %s", path)
		}
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errdefs.Internalf("settings file %s: %v", path, err)
	}
	return doc, nil
}

// WriteSettings validates doc and writes it atomically (tmp file + rename).
func WriteSettings(path string, doc map[string]any) error {
	if err := ValidateSettings(doc); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
