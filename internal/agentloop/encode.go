package agentloop

import "encoding/json"

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
