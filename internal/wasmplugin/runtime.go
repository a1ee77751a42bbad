// Package wasmplugin implements engine.WasmRuntime. No real WebAssembly
// runtime exists anywhere in the example pack, so plugin functions run
// as sandboxed JavaScript in a goja VM instead (adapted from the
// teacher pack's TEE script-engine simulation mode, which uses goja for
// the same reason: a pure-Go, dependency-free interpreter standing in
// for a lower-level sandbox). Plugin distribution still follows the
// WASM-as-OCI-artifact convention via the oras.land client in fetch.go.
package wasmplugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/acteon-dev/acteon/internal/value"
)

// Plugin is one loaded script, keyed by name.
type Plugin struct {
	Name   string
	Source string
}

// Runtime executes plugin functions in a fresh goja.Runtime per
// invocation, so concurrent rule evaluations never share VM state.
type Runtime struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	timeout time.Duration
}

func NewRuntime(timeout time.Duration) *Runtime {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Runtime{plugins: make(map[string]Plugin), timeout: timeout}
}

func (r *Runtime) Load(name, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = Plugin{Name: name, Source: source}
}

// Invoke satisfies engine.WasmRuntime: it evaluates the named plugin's
// source, then calls the named exported function with args converted
// to native JS values, converting the result back to value.Value.
func (r *Runtime) Invoke(ctx context.Context, plugin, function string, args []value.Value) (value.Value, error) {
	r.mu.RLock()
	p, ok := r.plugins[plugin]
	r.mu.RUnlock()
	if !ok {
		return value.Null(), fmt.Errorf("wasmplugin: plugin %q not loaded", plugin)
	}

	vm := goja.New()
	if _, err := vm.RunString(p.Source); err != nil {
		return value.Null(), fmt.Errorf("wasmplugin: load plugin %q: %w", plugin, err)
	}

	fn, ok := goja.AssertFunction(vm.Get(function))
	if !ok {
		return value.Null(), fmt.Errorf("wasmplugin: %q does not export function %q", plugin, function)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = vm.ToValue(toNative(a))
	}

	done := make(chan struct{})
	var result goja.Value
	var callErr error
	go func() {
		defer close(done)
		result, callErr = fn(goja.Undefined(), jsArgs...)
	}()

	select {
	case <-done:
		if callErr != nil {
			return value.Null(), fmt.Errorf("wasmplugin: invoke %s.%s: %w", plugin, function, callErr)
		}
		return value.FromJSON(result.Export()), nil
	case <-time.After(r.timeout):
		vm.Interrupt("wasmplugin: execution timeout")
		return value.Null(), fmt.Errorf("wasmplugin: %s.%s exceeded timeout of %s", plugin, function, r.timeout)
	case <-ctx.Done():
		vm.Interrupt("wasmplugin: context canceled")
		return value.Null(), ctx.Err()
	}
}

func toNative(v value.Value) interface{} {
	if b, ok := v.AsBool(); ok {
		return b
	}
	if i, ok := v.AsInt(); ok {
		return i
	}
	if f, ok := v.AsFloat(); ok {
		return f
	}
	if s, ok := v.AsString(); ok {
		return s
	}
	if l, ok := v.AsList(); ok {
		out := make([]interface{}, len(l))
		for i, e := range l {
			out[i] = toNative(e)
		}
		return out
	}
	if m, ok := v.AsMap(); ok {
		out := make(map[string]interface{}, len(m))
		for k, e := range m {
			out[k] = toNative(e)
		}
		return out
	}
	return nil
}
