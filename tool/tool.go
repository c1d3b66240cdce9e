// Package tool provides the tool registry agents expose to LLM providers:
// named functions with JSON-Schema parameter descriptions, inferred from Go
// argument structs by reflection.
package tool

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
)

// Handler executes a tool call with decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named capability an agent can execute on behalf of a model.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters json.RawMessage
	Handler    Handler
}

// Spec is the serializable description of a tool, in the shape providers
// expect for function calling.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Spec returns the tool's serializable description.
func (t Tool) Spec() Spec {
	return Spec{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// New builds a tool from a typed handler. The parameter schema is inferred
// from the argument struct I: json tags name the properties, a description
// tag documents them, and every non-pointer field without omitempty is
// required.
//
//	type searchArgs struct {
//	    Query string `json:"query" description:"what to look for"`
//	    Limit int    `json:"limit,omitempty"`
//	}
//	t := tool.New("search", "Search the knowledge base",
//	    func(ctx context.Context, a searchArgs) (any, error) { ... })
func New[I any](name, description string, handler func(ctx context.Context, input I) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  generateSchema[I](),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var input I
			data, err := json.Marshal(args)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, &input); err != nil {
				return nil, err
			}
			return handler(ctx, input)
		},
	}
}

type schemaObject struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// generateSchema builds a JSON Schema object from a Go struct type.
func generateSchema[I any]() json.RawMessage {
	schema := schemaObject{
		Type:       "object",
		Properties: make(map[string]schemaProperty),
		Required:   []string{},
	}

	var zero I
	typ := reflect.TypeOf(zero)
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		data, _ := json.Marshal(schema)
		return data
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		name := jsonFieldName(jsonTag, field.Name)
		if name == "-" {
			continue
		}

		schema.Properties[name] = schemaProperty{
			Type:        goTypeToJSONType(field.Type),
			Description: field.Tag.Get("description"),
		}

		optional := field.Type.Kind() == reflect.Ptr || strings.Contains(jsonTag, "omitempty")
		if !optional {
			schema.Required = append(schema.Required, name)
		}
	}

	data, _ := json.Marshal(schema)
	return data
}

// jsonFieldName extracts the property name from a json tag.
func jsonFieldName(tag, defaultName string) string {
	if tag == "" {
		return strings.ToLower(defaultName)
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "" {
		return strings.ToLower(defaultName)
	}
	return parts[0]
}

// goTypeToJSONType converts Go types to JSON schema types.
func goTypeToJSONType(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}
