// Package scrubber removes sensitive fields from vendor documents before they
// are stored or returned.
package scrubber

import (
	"strings"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
)

// DefaultFields are removed when no fields are configured
var DefaultFields = []string{"customerEmail", "ssn"}

// Scrubber removes a fixed set of keys from documents at every nesting level
type Scrubber struct {
	sensitive map[string]struct{}
}

// New creates a scrubber for the given field names
func New(fields ...string) *Scrubber {
	if len(fields) == 0 {
		fields = DefaultFields
	}

	sensitive := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		sensitive[f] = struct{}{}
	}

	return &Scrubber{sensitive: sensitive}
}

// Scrub returns a sanitized copy of doc. The input is never modified.
func (s *Scrubber) Scrub(doc domain.Document) domain.Document {
	if doc == nil {
		return nil
	}
	return s.scrubDocument(doc)
}

func (s *Scrubber) scrubDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if _, ok := s.sensitive[k]; ok {
			continue
		}
		out[k] = s.scrubValue(v)
	}
	return out
}

func (s *Scrubber) scrubValue(v any) any {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		return s.scrubDocument(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.scrubValue(item)
		}
		return out
	default:
		return v
	}
}
