package config

import (
	"fmt"
	"math"
	"time"

	"github.com/dshills/procsup/internal/signals"
	"github.com/dshills/procsup/internal/supervisor"
	"github.com/dshills/procsup/internal/variant"
)

// decodeRoster converts the roster table of a configuration file.
//
//	[roster]
//	name = "custom"
//
//	[[roster.children]]
//	name = "A"
//	kind = "normal"     # normal | error | waiter | work
//	code = 0
//
//	[roster.signal]
//	target = "C"
//	after = "2s"
//	signal = "TERM"
func decodeRoster(m map[string]any) (supervisor.Roster, error) {
	var r supervisor.Roster
	var err error

	if v, ok := m["name"]; ok {
		if r.Name, err = asString("roster.name", v); err != nil {
			return r, err
		}
	}
	if r.Name == "" {
		r.Name = "custom"
	}

	raw, ok := m["children"]
	if !ok {
		return r, fmt.Errorf("%w: roster has no children", ErrInvalidValue)
	}
	list, ok := raw.([]any)
	if !ok {
		return r, fmt.Errorf("%w: roster.children is %s, want array", ErrTypeMismatch, typeName(raw))
	}
	for i, item := range list {
		path := fmt.Sprintf("roster.children[%d]", i)
		cm, ok := item.(map[string]any)
		if !ok {
			return r, fmt.Errorf("%w: %s is %s, want table", ErrTypeMismatch, path, typeName(item))
		}
		spec, err := decodeChild(path, cm)
		if err != nil {
			return r, err
		}
		r.Children = append(r.Children, spec)
	}

	if raw, ok := m["signal"]; ok {
		sm, ok := raw.(map[string]any)
		if !ok {
			return r, fmt.Errorf("%w: roster.signal is %s, want table", ErrTypeMismatch, typeName(raw))
		}
		plan, err := decodeSignal(sm)
		if err != nil {
			return r, err
		}
		r.Signal = &plan
	}

	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

func decodeChild(path string, m map[string]any) (supervisor.ChildSpec, error) {
	var c supervisor.ChildSpec
	var err error

	if c.Name, err = requiredString(path+".name", m["name"]); err != nil {
		return c, err
	}

	kindName, err := requiredString(path+".kind", m["kind"])
	if err != nil {
		return c, err
	}
	if c.Variant.Kind, err = variant.ParseKind(kindName); err != nil {
		return c, fmt.Errorf("%w: %s: %v", ErrInvalidValue, path+".kind", err)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"code", &c.Variant.Code},
		{"nice", &c.Variant.Nice},
		{"iterations", &c.Variant.Iterations},
	}
	for _, f := range ints {
		if v, ok := m[f.key]; ok {
			if *f.dst, err = asInt(path+"."+f.key, v); err != nil {
				return c, err
			}
		}
	}

	// An error child with no code exits 1.
	if _, ok := m["code"]; !ok && c.Variant.Kind == variant.ErrorExit {
		c.Variant.Code = 1
	}

	if v, ok := m["reraise"]; ok {
		b, ok := v.(bool)
		if !ok {
			return c, fmt.Errorf("%w: %s.reraise is %s, want bool", ErrTypeMismatch, path, typeName(v))
		}
		c.Variant.Reraise = b
	}
	if v, ok := m["delay"]; ok {
		if c.Variant.Delay, err = asDuration(path+".delay", v); err != nil {
			return c, err
		}
	}
	if v, ok := m["captured"]; ok {
		n, err := asInt(path+".captured", v)
		if err != nil {
			return c, err
		}
		c.Variant = c.Variant.WithCapture(n)
	}
	if v, ok := m["hint"]; ok {
		n, err := asInt(path+".hint", v)
		if err != nil {
			return c, err
		}
		c.Hint = &n
	}

	return c, nil
}

func decodeSignal(m map[string]any) (supervisor.SignalPlan, error) {
	var p supervisor.SignalPlan
	var err error

	if p.Target, err = requiredString("roster.signal.target", m["target"]); err != nil {
		return p, err
	}
	if v, ok := m["after"]; ok {
		if p.After, err = asDuration("roster.signal.after", v); err != nil {
			return p, err
		}
	}

	p.Signal = signals.Default
	if v, ok := m["signal"]; ok {
		name := fmt.Sprint(v)
		if _, isNum := toInt(v); !isNum {
			if name, err = asString("roster.signal.signal", v); err != nil {
				return p, err
			}
		}
		if p.Signal, err = signals.Parse(name); err != nil {
			return p, fmt.Errorf("%w: roster.signal.signal: %v", ErrInvalidValue, err)
		}
	}
	return p, nil
}

func requiredString(path string, v any) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidValue, path)
	}
	s, err := asString(path, v)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidValue, path)
	}
	return s, nil
}

func asString(path string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %s, want string", ErrTypeMismatch, path, typeName(v))
	}
	return s, nil
}

// toInt accepts the integer types produced by the TOML, YAML and
// environment loaders, and integral floats.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		if n <= math.MaxInt32 {
			return int(n), true
		}
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

func asInt(path string, v any) (int, error) {
	n, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s is %s, want integer", ErrTypeMismatch, path, typeName(v))
	}
	return n, nil
}

// asDuration accepts duration strings ("2s"), parsed durations and zero.
func asDuration(path string, v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidValue, path, err)
		}
		if parsed < 0 {
			return 0, fmt.Errorf("%w: %s is negative", ErrInvalidValue, path)
		}
		return parsed, nil
	}
	if n, ok := toInt(v); ok && n == 0 {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %s is %s, want duration string", ErrTypeMismatch, path, typeName(v))
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "float"
	case []any:
		return "array"
	case map[string]any:
		return "table"
	default:
		return fmt.Sprintf("%T", v)
	}
}
