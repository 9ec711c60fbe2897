package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/processor"
)

const pipelineYAML = `
service: greeter
pipeline:
  - name: trim
    type: strings
    operation: trim
  - name: shout
    type: strings
    operation: to_upper
  - name: greet
    type: script
    source: |
      function process(payload) { return "hello " + payload; }
  - name: punctuate
    type: strings
    operation: replace
    params:
      old: "$"
      new: "!"
      use_regex: true
`

func TestBuildChain_FromYAML(t *testing.T) {
	cfg, err := parse([]byte(pipelineYAML), env(nil))
	require.NoError(t, err)
	require.Len(t, cfg.Pipeline, 4)

	c, closeFn, err := cfg.BuildChain(context.Background(), zap.NewNop(), nil)
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	require.NoError(t, c.Initialise(ctx))
	require.NoError(t, c.Start(ctx))
	defer func() {
		assert.NoError(t, c.Stop(ctx))
		assert.NoError(t, c.Dispose(ctx))
	}()

	out, err := c.Process(ctx, event.New("  world  "))
	require.NoError(t, err)
	assert.Equal(t, "hello WORLD!", out.PayloadString())

	names := make([]string, 0, 4)
	for _, p := range c.Processors() {
		names = append(names, processor.NameOf(p))
	}
	assert.Equal(t, []string{"trim", "shout", "greet", "punctuate"}, names)
}

func TestBuildChain_ScriptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "double.js")
	require.NoError(t, os.WriteFile(path, []byte(`function run(p) { return p + p; }`), 0o600))

	cfg := Default()
	cfg.Pipeline = []StageConfig{{Type: StageScript, File: path, Function: "run"}}
	c, closeFn, err := cfg.BuildChain(context.Background(), nil, nil)
	require.NoError(t, err)
	defer closeFn()

	out, err := c.Process(context.Background(), event.New("ab"))
	require.NoError(t, err)
	assert.Equal(t, "abab", out.PayloadString())
}

func TestBuildChain_Errors(t *testing.T) {
	tests := []struct {
		name  string
		stage StageConfig
	}{
		{"no type", StageConfig{}},
		{"unknown type", StageConfig{Type: "xslt"}},
		{"bad strings op", StageConfig{Type: StageStrings, Operation: "reverse"}},
		{"script syntax", StageConfig{Type: StageScript, Source: "function ("}},
		{"missing script file", StageConfig{Type: StageScript, File: filepath.Join(t.TempDir(), "nope.js")}},
		{"schema without definition", StageConfig{Type: StageSchema}},
		{"bad schema", StageConfig{Type: StageSchema, Schema: map[string]any{"type": "TUPLE"}}},
		{"empty foreach", StageConfig{Type: StageForEach}},
		{"bad foreach strategy", StageConfig{Type: StageForEach, Strategy: "sideways", Stages: []StageConfig{{Type: StageStrings, Operation: "trim"}}}},
		{"bad foreach inner", StageConfig{Type: StageForEach, Stages: []StageConfig{{Type: "nope"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Pipeline = []StageConfig{tt.stage}
			c, closeFn, err := cfg.BuildChain(context.Background(), nil, nil)
			assert.Error(t, err)
			assert.Nil(t, c)
			require.NotNil(t, closeFn)
			closeFn()
		})
	}
}

func TestBuildChain_EmptyPipelineIsPassthrough(t *testing.T) {
	c, closeFn, err := Default().BuildChain(context.Background(), nil, nil)
	require.NoError(t, err)
	defer closeFn()

	in := event.New("same")
	out, err := c.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "same", out.PayloadString())
}

const schemaPipelineYAML = `
pipeline:
  - name: order
    type: schema
    apply_defaults: true
    prune: true
    schema:
      type: OBJECT
      properties:
        sku:
          type: STRING
          required: true
        qty:
          type: INTEGER
          default: 1
  - name: describe
    type: script
    source: |
      function process(payload) {
        var order = JSON.parse(payload);
        return order.qty + "x " + order.sku;
      }
`

func TestBuildChain_SchemaStage(t *testing.T) {
	cfg, err := parse([]byte(schemaPipelineYAML), env(nil))
	require.NoError(t, err)

	c, closeFn, err := cfg.BuildChain(context.Background(), nil, nil)
	require.NoError(t, err)
	defer closeFn()

	out, err := c.Process(context.Background(), event.New(`{"sku":"A-1","note":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "1x A-1", out.PayloadString())

	_, err = c.Process(context.Background(), event.New(`{"qty":2}`))
	assert.ErrorContains(t, err, "root.sku: field is required")
}

const foreachPipelineYAML = `
service: lines
pipeline:
  - name: each-line
    type: foreach
    strategy: parallel
    max_concurrent: 2
    stages:
      - type: strings
        operation: title_case
      - type: strings
        operation: append
        params:
          value: "."
`

func TestBuildChain_ForEachStage(t *testing.T) {
	cfg, err := parse([]byte(foreachPipelineYAML), env(nil))
	require.NoError(t, err)

	c, closeFn, err := cfg.BuildChain(context.Background(), nil, nil)
	require.NoError(t, err)
	defer closeFn()

	out, err := c.Process(context.Background(), event.New(`["hello world","good bye"]`))
	require.NoError(t, err)
	assert.JSONEq(t, `["Hello World.","Good Bye."]`, string(out.Payload().([]byte)))
	assert.Equal(t, "chain \"lines\"\n  each-line", c.String())
}

func TestStageConfig_ForEachNeedsNest(t *testing.T) {
	stage := StageConfig{Type: StageForEach, Stages: []StageConfig{{Type: StageStrings, Operation: "trim"}}}
	_, err := stage.NewProcessor(nil, nil)
	assert.Error(t, err)
}
