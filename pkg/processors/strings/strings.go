// Package strings provides library processors that transform string payloads.
package strings

import (
	"context"
	"fmt"
	"regexp"
	stdstrings "strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

// Transform maps one payload string to another.
type Transform func(s string) (string, error)

// New returns a processor applying fn to the string form of each payload.
// A nil event passes through as nil.
func New(name string, fn Transform) processor.Processor {
	return processor.WithName(name, processor.Func(func(_ context.Context, ev *event.Event) (*event.Event, error) {
		if ev == nil {
			return nil, nil
		}
		out, err := fn(ev.PayloadString())
		if err != nil {
			return nil, &OperationError{Operation: name, Message: err.Error(), Err: err}
		}
		return ev.WithPayload(out), nil
	}))
}

// Append adds suffix to the payload.
func Append(suffix string) processor.Processor {
	return New(fmt.Sprintf("append(%q)", suffix), func(s string) (string, error) {
		return s + suffix, nil
	})
}

// Prepend adds prefix in front of the payload.
func Prepend(prefix string) processor.Processor {
	return New(fmt.Sprintf("prepend(%q)", prefix), func(s string) (string, error) {
		return prefix + s, nil
	})
}

// Trim removes cutset from both ends of the payload. An empty cutset trims
// Unicode whitespace.
func Trim(cutset string) processor.Processor {
	return New("trim", func(s string) (string, error) {
		if cutset == "" {
			return stdstrings.TrimSpace(s), nil
		}
		return stdstrings.Trim(s, cutset), nil
	})
}

// Upper converts the payload to upper case using the rules of tag.
func Upper(tag language.Tag) processor.Processor {
	return New("to_upper", caser(func() cases.Caser { return cases.Upper(tag) }))
}

// Lower converts the payload to lower case using the rules of tag.
func Lower(tag language.Tag) processor.Processor {
	return New("to_lower", caser(func() cases.Caser { return cases.Lower(tag) }))
}

// Title capitalizes the first letter of each word using the rules of tag.
func Title(tag language.Tag) processor.Processor {
	return New("title_case", caser(func() cases.Caser { return cases.Title(tag) }))
}

// Replace replaces occurrences of old with replacement. With useRegex, old is
// an RE2 pattern and replacement may reference groups. A negative count
// replaces every match.
func Replace(old, replacement string, count int, useRegex bool) (processor.Processor, error) {
	name := fmt.Sprintf("replace(%q)", old)
	if !useRegex {
		return New(name, func(s string) (string, error) {
			return stdstrings.Replace(s, old, replacement, count), nil
		}), nil
	}
	re, err := regexp.Compile(old)
	if err != nil {
		return nil, &ConfigError{Field: "old", Message: "invalid pattern", Err: err}
	}
	return New(name, func(s string) (string, error) {
		return replaceRegex(s, re, replacement, count), nil
	}), nil
}

// caser returns a Transform backed by an x/text caser. Casers keep state and
// must not be shared between goroutines, so each call builds its own.
func caser(newCaser func() cases.Caser) Transform {
	return func(s string) (string, error) {
		return newCaser().String(s), nil
	}
}

// replaceRegex replaces at most count matches, all of them when count < 0.
func replaceRegex(s string, re *regexp.Regexp, replacement string, count int) string {
	if count < 0 {
		return re.ReplaceAllString(s, replacement)
	}
	idxs := re.FindAllStringSubmatchIndex(s, count)
	if len(idxs) == 0 {
		return s
	}
	var b stdstrings.Builder
	last := 0
	for _, m := range idxs {
		b.WriteString(s[last:m[0]])
		b.Write(re.ExpandString(nil, replacement, s, m))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
