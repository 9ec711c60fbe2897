package script

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// nodeGlobals are removed from every VM.
var nodeGlobals = []string{"require", "module", "exports", "process", "global", "Buffer", "setImmediate", "clearImmediate"}

// vm is one runtime with the entry point resolved.
type vm struct {
	rt   *goja.Runtime
	fn   goja.Callable
	uses int
}

// vmPool keeps up to size runtimes that have already run the program.
type vmPool struct {
	program  *goja.Program
	config   Config
	idle     chan *vm
	slots    chan struct{}
	closed   atomic.Bool
	created  atomic.Int64
	acquired atomic.Int64
	recycled atomic.Int64
}

func newVMPool(program *goja.Program, config Config) *vmPool {
	return &vmPool{
		program: program,
		config:  config,
		idle:    make(chan *vm, config.PoolSize),
		slots:   make(chan struct{}, config.PoolSize),
	}
}

// acquire returns an idle VM, creates one if the pool has room, or waits.
func (p *vmPool) acquire(ctx context.Context) (*vm, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	p.acquired.Add(1)

	select {
	case v := <-p.idle:
		return v, nil
	default:
	}

	select {
	case v := <-p.idle:
		return v, nil
	case p.slots <- struct{}{}:
		v, err := p.create()
		if err != nil {
			<-p.slots
			return nil, err
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns v to the pool unless it must be discarded.
func (p *vmPool) release(v *vm, healthy bool) {
	v.uses++
	if !healthy || v.uses >= p.config.MaxReuse || p.closed.Load() {
		p.discard(v)
		return
	}
	select {
	case p.idle <- v:
	default:
		p.discard(v)
	}
}

func (p *vmPool) discard(v *vm) {
	v.rt = nil
	v.fn = nil
	p.recycled.Add(1)
	<-p.slots
}

// warm creates VMs until n are idle.
func (p *vmPool) warm(n int) error {
	if n > p.config.PoolSize {
		n = p.config.PoolSize
	}
	for i := len(p.idle); i < n; i++ {
		select {
		case p.slots <- struct{}{}:
		default:
			return nil
		}
		v, err := p.create()
		if err != nil {
			<-p.slots
			return err
		}
		p.idle <- v
	}
	return nil
}

func (p *vmPool) create() (*vm, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := p.sandbox(rt); err != nil {
		return nil, wrapError(p.config.Name, err)
	}
	if _, err := rt.RunProgram(p.program); err != nil {
		return nil, wrapError(p.config.Name, err)
	}
	fn, ok := goja.AssertFunction(rt.Get(p.config.Function))
	if !ok {
		return nil, &ScriptError{
			Type:    ErrorTypeSetup,
			Script:  p.config.Name,
			Message: fmt.Sprintf("%s is not a function", p.config.Function),
		}
	}

	p.created.Add(1)
	return &vm{rt: rt, fn: fn}, nil
}

// sandbox removes host globals and installs console.
func (p *vmPool) sandbox(rt *goja.Runtime) error {
	for _, name := range nodeGlobals {
		if err := rt.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	if p.config.Strict {
		err := rt.Set("eval", func(goja.FunctionCall) goja.Value {
			panic(rt.NewTypeError("eval is not allowed in strict mode"))
		})
		if err != nil {
			return fmt.Errorf("failed to restrict eval: %w", err)
		}
	}

	logger := p.config.Logger.With(zap.String("script", p.config.Name))
	console := rt.NewObject()
	logAt := func(log func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			log("console", zap.Any("args", args))
			return goja.Undefined()
		}
	}
	for name, log := range map[string]func(string, ...zap.Field){
		"log":   logger.Info,
		"info":  logger.Info,
		"debug": logger.Debug,
		"warn":  logger.Warn,
		"error": logger.Error,
	} {
		if err := console.Set(name, logAt(log)); err != nil {
			return fmt.Errorf("failed to install console.%s: %w", name, err)
		}
	}
	return rt.Set("console", console)
}

// close discards idle VMs; VMs in use are discarded on release.
func (p *vmPool) close() {
	if p.closed.Swap(true) {
		return
	}
	for {
		select {
		case v := <-p.idle:
			p.discard(v)
		default:
			return
		}
	}
}

// PoolStats contains pool statistics
type PoolStats struct {
	Live     int   `json:"live"`
	Idle     int   `json:"idle"`
	MaxSize  int   `json:"max_size"`
	Created  int64 `json:"created"`
	Acquired int64 `json:"acquired"`
	Recycled int64 `json:"recycled"`
}

func (p *vmPool) stats() PoolStats {
	return PoolStats{
		Live:     len(p.slots),
		Idle:     len(p.idle),
		MaxSize:  p.config.PoolSize,
		Created:  p.created.Load(),
		Acquired: p.acquired.Load(),
		Recycled: p.recycled.Load(),
	}
}
