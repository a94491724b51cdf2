package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/errdefs"
)

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, WriteSettings(path, DefaultSettings("1.2.0")))

	doc, err := ReadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "warden server", doc["server-name"])
	assert.EqualValues(t, 25565, doc["server-port"])
	assert.Contains(t, doc["motd"], "1.2.0")

	// No stale temp file left behind.
	assert.NoFileExists(t, path+".tmp")
}

func TestWriteSettingsRejectsSchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	err := WriteSettings(path, map[string]any{"server-port": 70000})
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.NoFileExists(t, path, "nothing written on validation failure")
}

func TestReadSettingsMissing(t *testing.T) {
	_, err := ReadSettings(filepath.Join(t.TempDir(), "settings.json"))
	assert.True(t, errdefs.IsNotFound(err))
}

func TestValidateSettingsAllowsUnknownKeys(t *testing.T) {
	assert.NoError(t, ValidateSettings(map[string]any{
		"server-port":     25565,
		"view-distance":   10,
		"custom-game-key": []string{"a", "b"},
	}))
}
