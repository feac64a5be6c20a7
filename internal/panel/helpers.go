package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/promptchain/pkg/schema"
)

// toJSON marshals a value to indented JSON for template rendering.
func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// timeAgo returns a human-readable relative time string.
// Accepts time.Time or *time.Time.
func timeAgo(v any) string {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case *time.Time:
		if val == nil {
			return ""
		}
		t = *val
	default:
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// statusBadge returns a CSS class name for a chain status or event type.
func statusBadge(status string) string {
	switch status {
	case string(schema.ChainStatusActive), schema.EventVersionCommitted, schema.EventChainCreated:
		return "badge-success"
	case string(schema.ChainStatusArchived), schema.EventSessionClosed:
		return "badge-muted"
	case schema.EventSessionOpened, schema.EventEditApplied:
		return "badge-active"
	case schema.EventEditUndone, schema.EventEditRedone, schema.EventVersionsPruned:
		return "badge-warning"
	default:
		return "badge-secondary"
	}
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeChainError maps err onto an HTTP status. ChainErrors are returned
// whole so clients see the code, details and node index.
func writeChainError(w http.ResponseWriter, err error) {
	var ce *schema.ChainError
	if !errors.As(err, &ce) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusFor(ce.Code), map[string]any{"error": ce})
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeValidation, schema.ErrCodeInvalidEdit, schema.ErrCodeExpression:
		return http.StatusBadRequest
	case schema.ErrCodeSessionClosed:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryInts parses a comma separated list of integers, skipping junk.
func queryInts(r *http.Request, key string) []int {
	var out []int
	for _, part := range strings.Split(r.URL.Query().Get(key), ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, n)
		}
	}
	return out
}
