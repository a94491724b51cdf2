package config

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"warden/internal/errdefs"
)

// Settings documents are game-owned JSON; the schema only pins down the
// handful of fields the daemon itself reads or seeds.
const settingsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "server-name": {"type": "string", "minLength": 1},
    "server-port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "max-players": {"type": "integer", "minimum": 1},
    "motd": {"type": "string"}
  },
  "additionalProperties": true
}`

var compiledSettingsSchema = jsonschema.MustCompileString("settings.json", settingsSchema)

// ValidateSettings checks a settings document against the schema. The
// document is normalized through a JSON round trip first so callers may pass
// maps built in Go code as well as freshly decoded request bodies.
func ValidateSettings(doc map[string]any) error {
	v, err := normalizeJSON(doc)
	if err != nil {
		return errdefs.InvalidArgumentf("settings: %v", err)
	}
	if err := compiledSettingsSchema.Validate(v); err != nil {
		return errdefs.InvalidArgumentf("settings: %v", err)
	}
	return nil
}

func normalizeJSON(obj any) (any, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
