package payload

import (
	"encoding/json"
	"fmt"
)

// Args holds positional arguments still in their encoded form.
type Args []json.RawMessage

func (a Args) Len() int {
	return len(a)
}

// Decode unmarshals argument i into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("%w: %d of %d", ErrArgIndex, i, len(a))
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("%w: args[%d]: %v", ErrArgType, i, err)
	}
	return nil
}

func (a Args) Float64(i int) (float64, error) {
	var v float64
	err := a.Decode(i, &v)
	return v, err
}

func (a Args) String(i int) (string, error) {
	var v string
	err := a.Decode(i, &v)
	return v, err
}

// Floats decodes every argument as a number.
func (a Args) Floats() ([]float64, error) {
	out := make([]float64, len(a))
	for i := range a {
		v, err := a.Float64(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
