package service

import (
	"encoding/json"

	"github.com/scharf/node-proxy-bridge/internal/route"
)

// ShouldStream decides, once per request, whether the response is relayed
// as a live stream. The no-streaming directive wins unconditionally;
// otherwise a request body that decodes as a JSON object with a truthy
// "stream" field opts in. A body that is absent, not JSON, or not an
// object simply does not opt in — body inspection here is best-effort,
// never an error.
func ShouldStream(directives route.Directives, body []byte) bool {
	if directives.Has(route.NoStreaming) {
		return false
	}
	if len(body) == 0 {
		return false
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return truthy(payload["stream"])
}

// truthy evaluates a decoded JSON value the way dynamic clients do:
// false, zero, empty string, null, empty collections and an absent field
// do not request streaming; any other value does.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
