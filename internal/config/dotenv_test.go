package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
WARDEN_TEST_PLAIN=value
export WARDEN_TEST_EXPORTED=exported
WARDEN_TEST_QUOTED="spaced value"
WARDEN_TEST_EXISTING=from-file
not a kv line
`), 0o644))

	t.Setenv("WARDEN_TEST_EXISTING", "preset")
	require.NoError(t, LoadDotEnv(path, false))

	assert.Equal(t, "value", os.Getenv("WARDEN_TEST_PLAIN"))
	assert.Equal(t, "exported", os.Getenv("WARDEN_TEST_EXPORTED"))
	assert.Equal(t, "spaced value", os.Getenv("WARDEN_TEST_QUOTED"))
	assert.Equal(t, "preset", os.Getenv("WARDEN_TEST_EXISTING"), "existing vars win without override")

	require.NoError(t, LoadDotEnv(path, true))
	assert.Equal(t, "from-file", os.Getenv("WARDEN_TEST_EXISTING"))

	for _, k := range []string{"WARDEN_TEST_PLAIN", "WARDEN_TEST_EXPORTED", "WARDEN_TEST_QUOTED"} {
		os.Unsetenv(k)
	}
}

func TestParseDotEnvLine(t *testing.T) {
	cases := []struct {
		line     string
		key, val string
		ok       bool
	}{
		{"KEY=VALUE", "KEY", "VALUE", true},
		{"  KEY = VALUE ", "KEY", "VALUE", true},
		{`KEY="quoted"`, "KEY", "quoted", true},
		{"KEY='single'", "KEY", "single", true},
		{"export KEY=v", "KEY", "v", true},
		{"KEY=", "KEY", "", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"no separator", "", "", false},
		{"=value", "", "", false},
	}
	for _, c := range cases {
		key, val, ok := parseDotEnvLine(c.line)
		assert.Equal(t, c.ok, ok, c.line)
		if c.ok {
			assert.Equal(t, c.key, key, c.line)
			assert.Equal(t, c.val, val, c.line)
		}
	}
}
