// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema reflects [Document]'s JSON Schema, the Go analogue of config.rs's
// schemars::schema_for!(ConfigExt). Grounded on
// gravitational-teleport's real dependency on github.com/invopop/jsonschema
// for the same "reflect a config struct's shape" purpose.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Document{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("config: marshaling schema: %w", err)
	}
	return out, nil
}
