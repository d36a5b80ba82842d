package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// PollutionMode selects what happens when a denied key is found.
type PollutionMode int

const (
	// PollutionBlock rejects the request outright with 400.
	PollutionBlock PollutionMode = iota
	// PollutionSanitize strips the offending keys and lets the request
	// continue with the cleaned body.
	PollutionSanitize
)

func isDeniedKey(key string) bool {
	switch strings.ToLower(key) {
	case "__proto__", "constructor", "prototype":
		return true
	}
	return strings.HasPrefix(key, "__")
}

// containsDeniedKey reports whether v (a decoded JSON value) contains a
// denied key anywhere in its object tree.
func containsDeniedKey(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if isDeniedKey(k) || containsDeniedKey(child) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if containsDeniedKey(child) {
				return true
			}
		}
	}
	return false
}

// sanitize returns a copy of v with denied keys removed from every
// nested object.
func sanitize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if isDeniedKey(k) {
				continue
			}
			out[k] = sanitize(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = sanitize(child)
		}
		return out
	default:
		return v
	}
}

func queryOrParamKeysDenied(c *gin.Context) bool {
	for key := range c.Request.URL.Query() {
		if isDeniedKey(key) {
			return true
		}
	}
	for _, p := range c.Params {
		if isDeniedKey(p.Key) {
			return true
		}
	}
	return false
}

// PrototypePollutionGuard recursively scans the JSON body, query
// string, and path parameters for keys that could pollute a shared
// prototype downstream (__proto__, constructor, prototype, or any
// dunder-prefixed key). Query and path parameter keys are fixed by the
// route and can only ever be rejected; the JSON body is either rejected
// or sanitized in place depending on mode.
func PrototypePollutionGuard(mode PollutionMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		if queryOrParamKeysDenied(c) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":      "forbidden_key",
				"message":    "Request contains a disallowed parameter name",
				"request_id": RequestIDFromContext(c),
			})
			return
		}

		if c.Request.Body == nil || !strings.HasPrefix(c.ContentType(), "application/json") {
			c.Next()
			return
		}

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":      "invalid_body",
				"message":    "Could not read request body",
				"request_id": RequestIDFromContext(c),
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		if len(raw) == 0 {
			c.Next()
			return
		}

		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			// Malformed JSON is a binding-layer concern, not this
			// guard's — let the handler's own ShouldBindJSON reject it.
			c.Next()
			return
		}

		if !containsDeniedKey(decoded) {
			c.Next()
			return
		}

		if mode == PollutionBlock {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":      "forbidden_key",
				"message":    "Request body contains a disallowed field name",
				"request_id": RequestIDFromContext(c),
			})
			return
		}

		cleaned, err := json.Marshal(sanitize(decoded))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":      "invalid_body",
				"message":    "Could not sanitize request body",
				"request_id": RequestIDFromContext(c),
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(cleaned))
		c.Request.ContentLength = int64(len(cleaned))

		c.Next()
	}
}
