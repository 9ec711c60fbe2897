package strings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Relay/pkg/chain"
	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

func run(t *testing.T, p processor.Processor, payload any) string {
	t.Helper()
	out, err := p.Process(context.Background(), event.New(payload))
	require.NoError(t, err)
	require.NotNil(t, out)
	return out.PayloadString()
}

func TestProcessors(t *testing.T) {
	replaceOnce, err := Replace("a", "A", 1, false)
	require.NoError(t, err)
	replaceGroups, err := Replace(`(\w+)@(\w+)`, "$2:$1", -1, true)
	require.NoError(t, err)
	replaceFirstDigit, err := Replace(`\d`, "#", 1, true)
	require.NoError(t, err)

	tests := []struct {
		name    string
		proc    processor.Processor
		payload any
		want    string
	}{
		{"append", Append("!"), "hi", "hi!"},
		{"prepend", Prepend(">"), "hi", ">hi"},
		{"append to bytes", Append("1"), []byte("0"), "01"},
		{"trim whitespace", Trim(""), "  hi \n", "hi"},
		{"trim cutset", Trim("-"), "--hi-", "hi"},
		{"upper", Upper(language.Und), "héllo", "HÉLLO"},
		{"upper turkish", Upper(language.Turkish), "i", "İ"},
		{"lower", Lower(language.Und), "HeLLo", "hello"},
		{"title", Title(language.Und), "hello wide world", "Hello Wide World"},
		{"replace once", replaceOnce, "banana", "bAnana"},
		{"replace regex groups", replaceGroups, "ann@home bob@work", "home:ann work:bob"},
		{"replace regex count", replaceFirstDigit, "a1b2", "a#b2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, tt.proc, tt.payload))
		})
	}
}

func TestNew_NilEventAndFailure(t *testing.T) {
	out, err := Append("x").Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	boom := errors.New("boom")
	failing := New("explode", func(string) (string, error) { return "", boom })
	_, err = failing.Process(context.Background(), event.New("0"))
	require.ErrorIs(t, err, boom)
	var oe *OperationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "explode", oe.Operation)
}

func TestReplace_InvalidPattern(t *testing.T) {
	_, err := Replace("(", "", -1, true)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "old", ce.Field)
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		payload string
		want    string
	}{
		{"append", Config{Operation: OpAppend, Params: map[string]any{"value": "1"}}, "0", "01"},
		{"prepend", Config{Operation: OpPrepend, Params: map[string]any{"value": "1"}}, "0", "10"},
		{"trim", Config{Operation: OpTrim}, " 0 ", "0"},
		{"replace", Config{Operation: OpReplace, Params: map[string]any{"old": "o", "new": "0", "count": float64(1)}}, "foo", "f0o"},
		{"upper with language", Config{Operation: OpToUpper, Params: map[string]any{"language": "tr"}}, "i", "İ"},
		{"lower", Config{Operation: OpToLower}, "ABC", "abc"},
		{"title", Config{Operation: OpTitleCase}, "a b", "A B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := FromConfig(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, run(t, p, tt.payload))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"empty", Config{}, "operation"},
		{"unknown", Config{Operation: "reverse"}, "operation"},
		{"append without value", Config{Operation: OpAppend}, "params.value"},
		{"replace without old", Config{Operation: OpReplace, Params: map[string]any{"new": "x"}}, "params.old"},
		{"bad language", Config{Operation: OpToUpper, Params: map[string]any{"language": "not a tag!"}}, "params.language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromConfig(tt.cfg)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestProcessors_InChain(t *testing.T) {
	c, err := chain.NewBuilder("normalise").
		Chain(Trim(""), Lower(language.Und), Append("-ok")).
		Build()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Process(context.Background(), event.New("  HELLO  "))
			assert.NoError(t, err)
			assert.Equal(t, "hello-ok", out.PayloadString())
		}()
	}
	wg.Wait()
}
