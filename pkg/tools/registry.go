package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// Args is a validated, normalized argument set for exactly one tool.
// Each tool owns a concrete Args type; raw maps only exist at the edge.
type Args interface {
	ToolName() string
}

// Tool is one entry of the catalog.
type Tool interface {
	Name() string
	Description() string
	// SideEffect reports whether Execute changes state outside the system.
	SideEffect() bool
	// Schema returns the JSON schema of the raw arguments.
	Schema() map[string]interface{}
	// ValidateArgs checks raw input and returns a normalized copy.
	ValidateArgs(raw map[string]interface{}) (Args, error)
	// PreviewForApproval describes what Execute would do, built from args only.
	PreviewForApproval(args Args) string
	Execute(ctx context.Context, args Args) (map[string]interface{}, error)
}

// RecipientTargeting is implemented by tools whose side effect is aimed at a
// named recipient that may be allowlisted.
type RecipientTargeting interface {
	Recipient(args Args) (string, bool)
}

// Declaration is the model-visible description of a tool.
type Declaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	SideEffect  bool                   `json:"side_effect"`
}

// Registry is a fixed catalog of tools keyed by name.
type Registry struct {
	byName       map[string]Tool
	declarations []Declaration
}

// NewRegistry builds a registry. Tool names must be unique and non-empty.
func NewRegistry(catalog ...Tool) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Tool, len(catalog)),
	}

	for _, tool := range catalog {
		if tool == nil {
			return nil, fmt.Errorf("tool cannot be nil")
		}
		name := tool.Name()
		if name == "" {
			return nil, fmt.Errorf("tool name cannot be empty")
		}
		if tool.Description() == "" {
			return nil, fmt.Errorf("tool %s: description cannot be empty", name)
		}
		if _, exists := r.byName[name]; exists {
			return nil, fmt.Errorf("duplicate tool name: %s", name)
		}
		r.byName[name] = tool
		r.declarations = append(r.declarations, Declaration{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.Schema(),
			SideEffect:  tool.SideEffect(),
		})
	}

	sort.Slice(r.declarations, func(i, j int) bool {
		return r.declarations[i].Name < r.declarations[j].Name
	})

	log.Info().Int("count", len(r.byName)).Msg("Tool registry initialized")

	return r, nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

// Declarations returns the tool schemas sorted by name.
func (r *Registry) Declarations() []Declaration {
	out := make([]Declaration, len(r.declarations))
	copy(out, r.declarations)
	return out
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.declarations))
	for _, d := range r.declarations {
		names = append(names, d.Name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.byName)
}

// ValidateStored re-validates an argument snapshot persisted as JSON.
func ValidateStored(tool Tool, stored json.RawMessage) (Args, error) {
	raw := map[string]interface{}{}
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &raw); err != nil {
			return nil, fmt.Errorf("stored arguments are not a JSON object: %w", err)
		}
	}
	return tool.ValidateArgs(raw)
}

// EncodeArgs serializes validated args for storage.
func EncodeArgs(args Args) (json.RawMessage, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s arguments: %w", args.ToolName(), err)
	}
	return data, nil
}
