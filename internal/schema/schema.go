// Package schema validates and normalizes tool arguments against JSON
// Schema definitions. Compiled schemas are cached by content, so repeated
// executions of the same tool skip recompilation.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError describes a failed argument validation.
type ValidationError struct {
	// Tool is the tool whose arguments failed validation.
	Tool string

	// Field is the JSON pointer of the offending field, "" for the root.
	Field string

	// Message is the validator's explanation.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid arguments for %s: %s: %s", e.Tool, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Message)
}

var schemaCache sync.Map

func compile(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// Validate checks args against schema. A nil or empty schema accepts any
// arguments. Validation failures come back as *ValidationError.
func Validate(tool string, schema, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compile(schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", tool, err)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &ValidationError{Tool: tool, Message: fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}

	if err := compiled.Validate(decoded); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			leaf := leafCause(verr)
			return &ValidationError{
				Tool:    tool,
				Field:   strings.TrimPrefix(leaf.InstanceLocation, "/"),
				Message: leaf.Message,
			}
		}
		return &ValidationError{Tool: tool, Message: err.Error()}
	}
	return nil
}

// leafCause walks to the most specific nested cause, which names the actual
// offending field instead of the aggregate "doesn't validate" message.
func leafCause(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

// Coerce repairs common model mistakes in tool arguments before validation:
// numbers and booleans sent as strings are converted when the schema expects
// the typed form, and numeric values are stringified when the schema expects
// a string. Unknown or non-object schemas return the arguments untouched.
func Coerce(schema, args json.RawMessage) json.RawMessage {
	if len(schema) == 0 || len(args) == 0 {
		return args
	}

	var spec struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &spec); err != nil || len(spec.Properties) == 0 {
		return args
	}

	var decoded map[string]any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return args
	}

	changed := false
	for name, prop := range spec.Properties {
		value, ok := decoded[name]
		if !ok {
			continue
		}
		if coerced, ok := coerceValue(prop.Type, value); ok {
			decoded[name] = coerced
			changed = true
		}
	}
	if !changed {
		return args
	}

	out, err := json.Marshal(decoded)
	if err != nil {
		return args
	}
	return out
}

func coerceValue(want string, value any) (any, bool) {
	switch want {
	case "integer":
		if s, ok := value.(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return n, true
			}
		}
	case "number":
		if s, ok := value.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	case "boolean":
		if s, ok := value.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
	case "string":
		switch v := value.(type) {
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10), true
			}
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(v), true
		}
	}
	return nil, false
}
