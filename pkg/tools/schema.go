package tools

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Param describes one argument of a tool.
type Param struct {
	Name        string
	Type        string // string, integer, number, boolean, array
	Description string
	Required    bool
	Items       string // element type for arrays
	Minimum     *int
	Maximum     *int
}

// paramSchema compiles a tool's parameter list into a JSON schema and keeps
// both the map form (for declarations) and the compiled form (for validation).
type paramSchema struct {
	doc      map[string]interface{}
	compiled *gojsonschema.Schema
}

func newParamSchema(params []Param) (*paramSchema, error) {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, p := range params {
		if p.Name == "" || p.Type == "" || p.Description == "" {
			return nil, fmt.Errorf("parameter %q must have a name, type and description", p.Name)
		}
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == "array" {
			itemType := p.Items
			if itemType == "" {
				itemType = "string"
			}
			prop["items"] = map[string]interface{}{"type": itemType}
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	doc := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &paramSchema{doc: doc, compiled: compiled}, nil
}

func mustParamSchema(params []Param) *paramSchema {
	s, err := newParamSchema(params)
	if err != nil {
		panic(err)
	}
	return s
}

// validate checks raw against the schema and decodes it into dst.
func (s *paramSchema) validate(raw map[string]interface{}, dst interface{}) error {
	if raw == nil {
		raw = map[string]interface{}{}
	}

	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func intPtr(v int) *int { return &v }

// NormalizeEmail trims and lower-cases a bare address and checks its syntax.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("email address cannot be empty")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("invalid email address: %q", value)
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", fmt.Errorf("invalid email address: %q", value)
	}
	return strings.ToLower(addr.Address), nil
}

func normalizeEmails(field string, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		addr, err := NormalizeEmail(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out, nil
}

func requireText(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s cannot be empty", field)
	}
	return trimmed, nil
}

func parseTimestamp(field, value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%s cannot be empty", field)
	}
	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp: %q", field, value)
	}
	return t.UTC(), nil
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
