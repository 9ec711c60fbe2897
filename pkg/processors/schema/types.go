// Package schema validates JSON event payloads against a declared shape,
// optionally filling defaults and dropping undeclared fields.
package schema

import (
	"fmt"
	"strings"
)

// Type is the data type of a field.
type Type string

// Supported types.
const (
	TypeString   Type = "STRING"
	TypeNumber   Type = "NUMBER"
	TypeInteger  Type = "INTEGER"
	TypeBoolean  Type = "BOOLEAN"
	TypeObject   Type = "OBJECT"
	TypeArray    Type = "ARRAY"
	TypeDate     Type = "DATE"
	TypeDateTime Type = "DATETIME"
	TypeAny      Type = "ANY"
)

// Property describes one value. Properties applies to objects, Items to arrays.
type Property struct {
	Type        Type                 `json:"type" yaml:"type"`
	Required    bool                 `json:"required,omitempty" yaml:"required"`
	Default     any                  `json:"default,omitempty" yaml:"default"`
	Description string               `json:"description,omitempty" yaml:"description"`
	Rules       *Rules               `json:"validation,omitempty" yaml:"validation"`
	Properties  map[string]*Property `json:"properties,omitempty" yaml:"properties"`
	Items       *Property            `json:"items,omitempty" yaml:"items"`
}

// Rules constrain a value beyond its type.
type Rules struct {
	MinLength *int     `json:"minLength,omitempty" yaml:"minLength"`
	MaxLength *int     `json:"maxLength,omitempty" yaml:"maxLength"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern"`
	Format    string   `json:"format,omitempty" yaml:"format"`
	Enum      []string `json:"enum,omitempty" yaml:"enum"`

	Minimum *float64 `json:"minimum,omitempty" yaml:"minimum"`
	Maximum *float64 `json:"maximum,omitempty" yaml:"maximum"`

	MinItems    *int `json:"minItems,omitempty" yaml:"minItems"`
	MaxItems    *int `json:"maxItems,omitempty" yaml:"maxItems"`
	UniqueItems bool `json:"uniqueItems,omitempty" yaml:"uniqueItems"`
}

// Violation is a single validation failure.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Violation codes.
const (
	CodeRequired     = "REQUIRED"
	CodeTypeMismatch = "TYPE_MISMATCH"
	CodeMinLength    = "MIN_LENGTH"
	CodeMaxLength    = "MAX_LENGTH"
	CodePattern      = "PATTERN"
	CodeFormat       = "FORMAT"
	CodeEnum         = "ENUM"
	CodeMinimum      = "MINIMUM"
	CodeMaximum      = "MAXIMUM"
	CodeMinItems     = "MIN_ITEMS"
	CodeMaxItems     = "MAX_ITEMS"
	CodeUniqueItems  = "UNIQUE_ITEMS"
)

// ValidationError is returned by the processor when a payload does not conform.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("payload failed validation with %d error(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// SchemaError reports an unusable schema definition.
type SchemaError struct {
	Path    string
	Message string
	Err     error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid schema at %s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid schema at %s: %s", e.Path, e.Message)
}

func (e *SchemaError) Unwrap() error { return e.Err }
