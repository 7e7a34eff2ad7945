package elasticsearch

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// RemoteErrorMessage extracts the reason from an Elasticsearch error body.
// It prefers error.root_cause[0].reason, then a flat string error field, and
// falls back to the bare status code.
func RemoteErrorMessage(statusCode int, body []byte) string {
	if gjson.ValidBytes(body) {
		if reason := gjson.GetBytes(body, "error.root_cause.0.reason"); reason.Exists() && reason.String() != "" {
			return reason.String()
		}
		if legacy := gjson.GetBytes(body, "error"); legacy.Type == gjson.String && legacy.String() != "" {
			return legacy.String()
		}
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}
