package fed

import (
	"encoding/json"
	"fmt"

	"github.com/perchlabs/perch/internal/session"
)

const (
	// maxProxyBytes bounds any proxied JSON body.
	maxProxyBytes = 1 << 20
	// maxProxySessions bounds how many sessions a peer may report.
	maxProxySessions = 1000
)

// sessionFields is the allow-list for proxied session objects; everything
// else a peer sends is dropped.
var sessionFields = map[string]bool{
	"name":             true,
	"pid":              true,
	"command":          true,
	"rows":             true,
	"cols":             true,
	"clients":          true,
	"tags":             true,
	"server":           true,
	"last_activity_ms": true,
}

// SanitizeSessionList validates a peer's session-list response and strips
// each entry to the allowed fields, stamping the entries with the backend's
// hostname.
func SanitizeSessionList(body []byte, server string) ([]byte, error) {
	if len(body) > maxProxyBytes {
		return nil, fmt.Errorf("session list exceeds %d bytes", maxProxyBytes)
	}
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("session list is not a JSON array: %w", err)
	}
	if len(entries) > maxProxySessions {
		return nil, fmt.Errorf("session list has %d entries, limit %d", len(entries), maxProxySessions)
	}
	out := make([]map[string]any, 0, len(entries))
	for i, entry := range entries {
		name, ok := entry["name"].(string)
		if !ok || !session.ValidName(name) {
			return nil, fmt.Errorf("entry %d has an invalid session name", i)
		}
		clean := make(map[string]any, len(sessionFields))
		for k, v := range entry {
			if sessionFields[k] {
				clean[k] = v
			}
		}
		clean["server"] = server
		out = append(out, clean)
	}
	return json.Marshal(out)
}

// SanitizeJSON validates a generic proxied body: bounded size, and the top
// level must be a JSON object or array. Returns a re-serialized copy so no
// raw peer bytes reach the client.
func SanitizeJSON(body []byte) ([]byte, error) {
	if len(body) > maxProxyBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxProxyBytes)
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	switch v.(type) {
	case map[string]any, []any:
	default:
		return nil, fmt.Errorf("response is not a JSON object or array")
	}
	return json.Marshal(v)
}
