package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxDetail bounds a plain-text Detail in bytes.
const maxDetail = 200

// TransportError describes any failed API call. Status is zero when no
// response arrived; Err then holds the network error.
type TransportError struct {
	Method string
	Path   string
	Status int
	// Detail is the server's {"detail": ...} message or the plain body.
	Detail string
	// Body is the raw error body, kept for field-level parsing.
	Body []byte
	Err  error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.Path, e.Status, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Detail)
	default:
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fields returns per-field messages from a {"field": ["msg", ...]} body.
// The "detail" key is excluded.
func (e *TransportError) Fields() map[string][]string {
	var raw map[string]any
	if err := json.Unmarshal(e.Body, &raw); err != nil {
		return nil
	}
	out := make(map[string][]string)
	for k, v := range raw {
		if k == "detail" {
			continue
		}
		switch msg := v.(type) {
		case string:
			out[k] = []string{msg}
		case []any:
			for _, m := range msg {
				out[k] = append(out[k], fmt.Sprint(m))
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// FormatFields renders field messages in a stable order, e.g.
// "password2: Passwords do not match".
func FormatFields(fields map[string][]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(fields[k], " "))
	}
	return strings.Join(parts, "; ")
}

func detailOf(body []byte) string {
	var d struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &d); err == nil {
		return d.Detail
	}
	return truncate(strings.TrimSpace(string(body)), maxDetail)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
