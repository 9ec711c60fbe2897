package schema

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FormatFunc checks a string against a named format.
type FormatFunc func(string) error

var formats = map[string]FormatFunc{
	"email": func(s string) error {
		_, err := mail.ParseAddress(s)
		return err
	},
	"uri": func(s string) error {
		u, err := url.Parse(s)
		if err == nil && (u.Scheme == "" || u.Host == "") {
			err = fmt.Errorf("missing scheme or host")
		}
		return err
	},
	"uuid": func(s string) error {
		_, err := uuid.Parse(s)
		return err
	},
	"date": func(s string) error {
		_, err := time.Parse(time.DateOnly, s)
		return err
	},
	"datetime": func(s string) error {
		_, err := time.Parse(time.RFC3339, s)
		return err
	},
}

// compiled is a checked property tree with its patterns compiled.
type compiled struct {
	prop     *Property
	def      json.RawMessage
	pattern  *regexp.Regexp
	format   FormatFunc
	children map[string]*compiled
	keys     []string
	items    *compiled
}

func compile(p *Property, path string) (*compiled, error) {
	if p == nil {
		return nil, &SchemaError{Path: path, Message: "property is nil"}
	}
	switch p.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray, TypeDate, TypeDateTime, TypeAny:
	case "":
		return nil, &SchemaError{Path: path, Message: "type is required"}
	default:
		return nil, &SchemaError{Path: path, Message: fmt.Sprintf("unknown type %q", p.Type)}
	}

	c := &compiled{prop: p}
	if p.Default != nil {
		raw, err := json.Marshal(p.Default)
		if err != nil {
			return nil, &SchemaError{Path: path, Message: "default is not JSON encodable", Err: err}
		}
		c.def = raw
	}
	if r := p.Rules; r != nil {
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, &SchemaError{Path: path, Message: "invalid pattern", Err: err}
			}
			c.pattern = re
		}
		if r.Format != "" {
			f, ok := formats[r.Format]
			if !ok {
				return nil, &SchemaError{Path: path, Message: fmt.Sprintf("unknown format %q", r.Format)}
			}
			c.format = f
		}
	}
	switch p.Type {
	case TypeDate:
		if c.format == nil {
			c.format = formats["date"]
		}
	case TypeDateTime:
		if c.format == nil {
			c.format = formats["datetime"]
		}
	}

	if len(p.Properties) > 0 {
		c.children = make(map[string]*compiled, len(p.Properties))
		for name, child := range p.Properties {
			cc, err := compile(child, path+"."+name)
			if err != nil {
				return nil, err
			}
			c.children[name] = cc
			c.keys = append(c.keys, name)
		}
		slices.Sort(c.keys)
	}
	if p.Items != nil {
		items, err := compile(p.Items, path+"[]")
		if err != nil {
			return nil, err
		}
		c.items = items
	}
	return c, nil
}

// validate appends every violation of value under path. Object keys are
// visited in sorted order so results are stable.
func (c *compiled) validate(value any, path string, out []Violation) []Violation {
	if value == nil {
		if c.prop.Required {
			out = append(out, Violation{Path: path, Message: "field is required", Code: CodeRequired})
		}
		return out
	}

	mismatch := func(want string) []Violation {
		return append(out, Violation{Path: path, Message: fmt.Sprintf("expected %s, got %s", want, kindOf(value)), Code: CodeTypeMismatch})
	}

	switch c.prop.Type {
	case TypeString, TypeDate, TypeDateTime:
		s, ok := value.(string)
		if !ok {
			return mismatch("string")
		}
		return c.validateString(s, path, out)
	case TypeNumber, TypeInteger:
		n, ok := value.(float64)
		if !ok {
			return mismatch("number")
		}
		if c.prop.Type == TypeInteger && n != float64(int64(n)) {
			return mismatch("integer")
		}
		return c.validateNumber(n, path, out)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return mismatch("boolean")
		}
	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			return mismatch("array")
		}
		return c.validateArray(arr, path, out)
	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return mismatch("object")
		}
		for _, name := range c.keys {
			out = c.children[name].validate(obj[name], path+"."+name, out)
		}
	}
	return out
}

func (c *compiled) validateString(s, path string, out []Violation) []Violation {
	if c.format != nil {
		if err := c.format(s); err != nil {
			out = append(out, Violation{Path: path, Message: fmt.Sprintf("invalid format: %v", err), Code: CodeFormat})
		}
	}
	r := c.prop.Rules
	if r == nil {
		return out
	}
	n := utf8.RuneCountInString(s)
	if r.MinLength != nil && n < *r.MinLength {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf("length %d is below minimum %d", n, *r.MinLength), Code: CodeMinLength})
	}
	if r.MaxLength != nil && n > *r.MaxLength {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf("length %d exceeds maximum %d", n, *r.MaxLength), Code: CodeMaxLength})
	}
	if c.pattern != nil && !c.pattern.MatchString(s) {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf("does not match pattern %s", r.Pattern), Code: CodePattern})
	}
	if len(r.Enum) > 0 && !slices.Contains(r.Enum, s) {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf("%q is not one of %v", s, r.Enum), Code: CodeEnum})
	}
	return out
}

func (c *compiled) validateNumber(n float64, path string, out []Violation) []Violation {
	r := c.prop.Rules
	if r == nil {
		return out
	}
	if r.Minimum != nil && n < *r.Minimum {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf("%v is below minimum %v", n, *r.Minimum), Code: CodeMinimum})
	}
	if r.Maximum != nil && n > *r.Maximum {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf("%v exceeds maximum %v", n, *r.Maximum), Code: CodeMaximum})
	}
	return out
}

func (c *compiled) validateArray(arr []any, path string, out []Violation) []Violation {
	if r := c.prop.Rules; r != nil {
		if r.MinItems != nil && len(arr) < *r.MinItems {
			out = append(out, Violation{Path: path, Message: fmt.Sprintf("%d items, minimum is %d", len(arr), *r.MinItems), Code: CodeMinItems})
		}
		if r.MaxItems != nil && len(arr) > *r.MaxItems {
			out = append(out, Violation{Path: path, Message: fmt.Sprintf("%d items, maximum is %d", len(arr), *r.MaxItems), Code: CodeMaxItems})
		}
		if r.UniqueItems {
			seen := make(map[string]int, len(arr))
			for i, item := range arr {
				key := fmt.Sprintf("%#v", item)
				if first, dup := seen[key]; dup {
					out = append(out, Violation{Path: fmt.Sprintf("%s[%d]", path, i), Message: fmt.Sprintf("duplicates item %d", first), Code: CodeUniqueItems})
					continue
				}
				seen[key] = i
			}
		}
	}
	if c.items != nil {
		for i, item := range arr {
			out = c.items.validate(item, fmt.Sprintf("%s[%d]", path, i), out)
		}
	}
	return out
}

// applyDefaults fills missing object fields that declare a default. It
// mutates value in place and returns it.
func (c *compiled) applyDefaults(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for _, name := range c.keys {
			child := c.children[name]
			if existing, ok := v[name]; ok && existing != nil {
				v[name] = child.applyDefaults(existing)
			} else if child.def != nil {
				v[name] = child.defaultValue()
			}
		}
	case []any:
		if c.items != nil {
			for i, item := range v {
				v[i] = c.items.applyDefaults(item)
			}
		}
	}
	return value
}

// defaultValue decodes a fresh copy of the default so events never share it.
func (c *compiled) defaultValue() any {
	var v any
	_ = json.Unmarshal(c.def, &v)
	return v
}

// prune drops object fields the schema does not declare. Objects without
// declared properties are left untouched.
func (c *compiled) prune(value any) any {
	switch v := value.(type) {
	case map[string]any:
		if c.children == nil {
			return v
		}
		for name, field := range v {
			child, ok := c.children[name]
			if !ok {
				delete(v, name)
				continue
			}
			v[name] = child.prune(field)
		}
	case []any:
		if c.items != nil {
			for i, item := range v {
				v[i] = c.items.prune(item)
			}
		}
	}
	return value
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
