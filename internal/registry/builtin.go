package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/atrpc/internal/protocol/payload"
)

var (
	ErrArity          = errors.New("wrong number of arguments")
	ErrDivisionByZero = errors.New("division by zero")
)

// Builtins returns the calculator functions keyed by every accepted name.
func Builtins() map[string]Func {
	add := binary("add", func(a, b float64) (float64, error) { return a + b, nil })
	sub := binary("subtract", func(a, b float64) (float64, error) { return a - b, nil })
	mul := binary("multiply", func(a, b float64) (float64, error) { return a * b, nil })
	div := binary("divide", func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	})
	return map[string]Func{
		"add":      add,
		"subtract": sub,
		"sub":      sub,
		"multiply": mul,
		"mul":      mul,
		"divide":   div,
		"div":      div,
	}
}

// RegisterBuiltins installs Builtins into r. Existing names are left untouched.
func RegisterBuiltins(r *Registry) error {
	for name, fn := range Builtins() {
		if err := r.Register(name, fn); err != nil && !errors.Is(err, ErrFuncExists) {
			return err
		}
	}
	return nil
}

func binary(name string, op func(a, b float64) (float64, error)) Func {
	return func(_ context.Context, args payload.Args) (any, error) {
		if args.Len() != 2 {
			return nil, fmt.Errorf("%s requires 2 arguments: %w", name, ErrArity)
		}
		a, err := args.Float64(0)
		if err != nil {
			return nil, err
		}
		b, err := args.Float64(1)
		if err != nil {
			return nil, err
		}
		return op(a, b)
	}
}
