package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const excerptRunes = 150

var errNoObject = errors.New("no JSON object found")

// RecoveryError reports that no JSON object could be recovered from a model
// reply. Excerpt holds the first 150 characters of the reply.
type RecoveryError struct {
	Excerpt string
	Err     error
}

func (e *RecoveryError) Error() string {
	return "failed to parse AI response as JSON: " + e.Excerpt
}

func (e *RecoveryError) Unwrap() error {
	return e.Err
}

// Recover extracts the object spanning the first '{' to the last '}' of raw
// and parses it strictly. Prose around the object is ignored; replies holding
// several objects or stray braces outside the real one fail.
func Recover(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, &RecoveryError{Excerpt: excerpt(raw), Err: errNoObject}
	}

	slice := []byte(raw[start : end+1])
	if !json.Valid(slice) {
		var out map[string]any
		return nil, &RecoveryError{Excerpt: excerpt(raw), Err: json.Unmarshal(slice, &out)}
	}

	dec := json.NewDecoder(bytes.NewReader(slice))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, &RecoveryError{Excerpt: excerpt(raw), Err: err}
	}
	return out, nil
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes])
}
