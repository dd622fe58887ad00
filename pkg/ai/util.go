package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID returns a random URL safe identifier for messages and conversations.
func NewID() string {
	return gonanoid.Must()
}

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// GenerateSchema creates a JSON Schema from the given Go type. It is served to
// the extraction service so its output matches the ingest payload.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// UnmarshalFlexible decodes JSON produced by a model driven service into
// out. Besides well formed JSON it accepts a JSON string holding the
// document, a markdown code fence around it and the syntax slips jsonrepair
// can fix (single quotes, bare keys, trailing commas, missing brackets).
func UnmarshalFlexible(input string, out any) error {
	candidate := strings.TrimSpace(input)
	if json.Unmarshal([]byte(candidate), out) == nil {
		return nil
	}

	var inner string
	if json.Unmarshal([]byte(candidate), &inner) == nil {
		candidate = strings.TrimSpace(inner)
		if json.Unmarshal([]byte(candidate), out) == nil {
			return nil
		}
	}

	candidate = stripDuplicateLeadingBrace(stripCodeFence(candidate))
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("repair json %q: %w", preview(candidate), err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decode repaired json %q: %w", preview(repaired), err)
	}
	return nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// preview keeps error messages of large payloads readable.
func preview(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return common.TruncateRunes(s, limit) + "..."
}
