package registry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/payload"
)

var (
	ErrFuncNameRequired = errors.New("registry: function name required")
	ErrFuncNil          = errors.New("registry: function is nil")
	ErrFuncExists       = errors.New("registry: function already registered")
	ErrUnknownFunc      = fmt.Errorf("%w: unknown function", protocol.ErrDispatch)
	ErrHandlerPanic     = fmt.Errorf("%w: handler panic", protocol.ErrDispatch)
)

// Func executes one call. The returned value must be encodable by the payload codec.
type Func func(ctx context.Context, args payload.Args) (any, error)

// Registry maps call names to functions. Reads dominate; writes are safe at any time.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name. Names are trimmed and must be unique.
func (r *Registry) Register(name string, fn Func) error {
	key, err := validate(name, fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[key]; ok {
		return fmt.Errorf("%w: %q", ErrFuncExists, key)
	}
	r.funcs[key] = fn
	return nil
}

// Replace installs fn under name, overwriting any existing entry.
func (r *Registry) Replace(name string, fn Func) error {
	key, err := validate(name, fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[key] = fn
	return nil
}

func (r *Registry) Unregister(name string) bool {
	key := strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[key]; !ok {
		return false
	}
	delete(r.funcs, key)
	return true
}

func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[strings.TrimSpace(name)]
	return fn, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Call dispatches one request. Unknown names and handler panics become dispatch errors;
// handler errors are returned unchanged.
func (r *Registry) Call(ctx context.Context, name string, args payload.Args) (result any, err error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, name)
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &PanicError{Func: name, Value: rec, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, args)
}

// PanicError reports a recovered handler panic.
type PanicError struct {
	Func  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrHandlerPanic, e.Func, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrHandlerPanic
}

func validate(name string, fn Func) (string, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return "", ErrFuncNameRequired
	}
	if fn == nil {
		return "", ErrFuncNil
	}
	return key, nil
}
