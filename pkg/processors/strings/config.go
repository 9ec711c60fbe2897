package strings

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/wehubfusion/Relay/pkg/processor"
)

// Supported operation names.
const (
	OpAppend    = "append"
	OpPrepend   = "prepend"
	OpTrim      = "trim"
	OpReplace   = "replace"
	OpToUpper   = "to_upper"
	OpToLower   = "to_lower"
	OpTitleCase = "title_case"
)

// Config describes a string processor declaratively, as found in pipeline
// definitions.
type Config struct {
	Operation string         `json:"operation" yaml:"operation"`
	Params    map[string]any `json:"params" yaml:"params"`
}

// Validate checks that the operation is known and its params are usable.
func (c *Config) Validate() error {
	switch c.Operation {
	case "":
		return &ConfigError{Field: "operation", Message: "operation cannot be empty"}
	case OpAppend, OpPrepend:
		if _, ok := c.Params["value"].(string); !ok {
			return &ConfigError{Field: "params.value", Message: "value must be a string"}
		}
	case OpReplace:
		if _, ok := c.Params["old"].(string); !ok {
			return &ConfigError{Field: "params.old", Message: "old must be a string"}
		}
	case OpTrim, OpToUpper, OpToLower, OpTitleCase:
	default:
		return &ConfigError{Field: "operation", Message: fmt.Sprintf("unsupported operation '%s'", c.Operation)}
	}
	if lang := getString(c.Params, "language", ""); lang != "" {
		if _, err := language.Parse(lang); err != nil {
			return &ConfigError{Field: "params.language", Message: "unknown language tag", Err: err}
		}
	}
	return nil
}

// FromConfig builds the processor described by cfg.
func FromConfig(cfg Config) (processor.Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tag := language.Und
	if lang := getString(cfg.Params, "language", ""); lang != "" {
		tag = language.Make(lang)
	}

	switch cfg.Operation {
	case OpAppend:
		return Append(getString(cfg.Params, "value", "")), nil
	case OpPrepend:
		return Prepend(getString(cfg.Params, "value", "")), nil
	case OpTrim:
		return Trim(getString(cfg.Params, "cutset", "")), nil
	case OpReplace:
		return Replace(
			getString(cfg.Params, "old", ""),
			getString(cfg.Params, "new", ""),
			getInt(cfg.Params, "count", -1),
			getBool(cfg.Params, "use_regex", false),
		)
	case OpToUpper:
		return Upper(tag), nil
	case OpToLower:
		return Lower(tag), nil
	default:
		return Title(tag), nil
	}
}

func getString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func getInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func getBool(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}
