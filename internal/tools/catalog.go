// Package tools implements the Tool Catalog and Approval Grant Store
// described by spec.md §4.4: tool descriptors, a schema-validated execution
// boundary with exponential backoff on transient failures, and a persisted
// set of user-approved tool names.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexusagent/nexus-runtime/internal/agent"
	"github.com/nexusagent/nexus-runtime/internal/tools/policy"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Fn is a tool's implementation: arguments may arrive as either a structured
// JSON object or a raw JSON string (spec.md §4.4); Fn receives the already
// leniently-parsed arguments as a json.RawMessage object.
type Fn func(ctx context.Context, args json.RawMessage) (string, error)

// Descriptor describes one tool: its invocation schema, permission
// classification, and whether invoking it requires a standing approval
// grant.
type Descriptor struct {
	Name             string
	Description      string
	ParameterSchema  *jsonschema.Schema
	Permission       policy.Permission
	RequiresApproval bool
	Fn               Fn
}

// ToSchema returns the JSON-Schema-compatible function-call shape from
// spec.md §6: {type:"function", function:{name, description, parameters}}.
func (d Descriptor) ToSchema() map[string]any {
	var params any
	if d.ParameterSchema != nil {
		// jsonschema.Schema round-trips through its own JSON marshaling.
		raw, _ := json.Marshal(d.ParameterSchema)
		_ = json.Unmarshal(raw, &params)
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  params,
		},
	}
}

// Catalog holds the set of tools known to the runtime.
type Catalog struct {
	byName map[string]Descriptor
}

// NewCatalog builds a catalog from descriptors, keyed by name.
func NewCatalog(descriptors ...Descriptor) *Catalog {
	c := &Catalog{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		c.byName[d.Name] = d
	}
	return c
}

// Get returns a descriptor by name.
func (c *Catalog) Get(name string) (Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Names returns every registered tool name.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	return names
}

// Schemas returns the LLM-facing function schema for every tool in names.
// Unknown names are skipped.
func (c *Catalog) Schemas(names []string) []map[string]any {
	schemas := make([]map[string]any, 0, len(names))
	for _, name := range names {
		if d, ok := c.byName[name]; ok {
			schemas = append(schemas, d.ToSchema())
		}
	}
	return schemas
}

// retryBackoffBase is the initial exponential backoff delay (1s), doubling
// on each retry, per spec.md §4.4 ("retried with exponential backoff (1,2,4
// s ...)").
const retryBackoffBase = time.Second

// maxTransientRetries caps the exponential backoff retry count.
const maxTransientRetries = 3

// Execute runs a tool by name with the parse-leniently/retry-transient
// contract from spec.md §4.4. It never returns an error — the tool loop
// treats the returned sanitized string as the tool's result in all cases,
// matching "it never raises out".
func (c *Catalog) Execute(ctx context.Context, name string, rawArgs json.RawMessage) string {
	d, ok := c.byName[name]
	if !ok {
		return fmt.Sprintf("Error executing %s: not found", name)
	}

	args, err := parseArgsLeniently(rawArgs)
	if err != nil {
		return fmt.Sprintf("Error executing %s: invalid arguments: %v", name, err)
	}
	if d.ParameterSchema != nil {
		if err := validateAgainstSchema(d.ParameterSchema, args); err != nil {
			return fmt.Sprintf("Error executing %s: %v", name, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		result, err := d.Fn(ctx, args)
		if err == nil {
			return result
		}
		lastErr = err

		toolErr := agent.NewToolError(name, err)
		if !toolErr.Retryable || attempt == maxTransientRetries {
			return sanitizeToolError(name, toolErr)
		}

		delay := retryBackoffBase << attempt
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return sanitizeToolError(name, agent.NewToolError(name, ctx.Err()))
		}
	}
	return sanitizeToolError(name, agent.NewToolError(name, lastErr))
}

func sanitizeToolError(name string, err *agent.ToolError) string {
	return fmt.Sprintf("Error executing %s: %s", name, err.Message)
}

// parseArgsLeniently accepts either a JSON object or a JSON string
// containing an encoded JSON object.
func parseArgsLeniently(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return json.RawMessage(asString), nil
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	return raw, nil
}

func validateAgainstSchema(schema *jsonschema.Schema, args json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}
