package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// TimeKind discriminates the three shapes a timeline time value can take.
type TimeKind uint8

const (
	// KindAbsolute is a concrete number of milliseconds. Inside a group it is
	// relative to the group start; at the root it is a unix timestamp.
	KindAbsolute TimeKind = iota
	// KindNow resolves to the moment the playout device receives the object.
	KindNow
	// KindRelative is an expression referencing other objects, e.g. "#id.start + 100".
	KindRelative
)

const nowLiteral = "now"

// Time is the sum type {Absolute(ms), Now, Relative(expr)} used for enable
// values. The zero value is Absolute(0).
type Time struct {
	kind TimeKind
	ms   int64
	expr string
}

// Abs returns an absolute time of ms milliseconds.
func Abs(ms int64) Time { return Time{kind: KindAbsolute, ms: ms} }

// Now returns the "now" time.
func Now() Time { return Time{kind: KindNow} }

// Expr returns a relative time expression. The literal "now" yields Now().
func Expr(expr string) Time {
	if expr == nowLiteral {
		return Now()
	}
	return Time{kind: KindRelative, expr: expr}
}

// Ref returns a pointer to t, for use in Enable fields.
func Ref(t Time) *Time { return &t }

// Kind reports which variant t holds.
func (t Time) Kind() TimeKind { return t.kind }

// IsNow reports whether t is the "now" variant.
func (t Time) IsNow() bool { return t.kind == KindNow }

// IsAbsolute reports whether t is a concrete number.
func (t Time) IsAbsolute() bool { return t.kind == KindAbsolute }

// Millis returns the absolute value; ok is false for the other variants.
func (t Time) Millis() (ms int64, ok bool) {
	if t.kind != KindAbsolute {
		return 0, false
	}
	return t.ms, true
}

// Expression returns the expression of a relative time, or "" otherwise.
func (t Time) Expression() string {
	if t.kind != KindRelative {
		return ""
	}
	return t.expr
}

// Equal reports whether a and b hold the same variant and value.
func (t Time) Equal(o Time) bool {
	return t.kind == o.kind && t.ms == o.ms && t.expr == o.expr
}

// Resolve maps t to a number, substituting now for the "now" variant. Relative
// expressions cannot be resolved locally and report ok == false.
func (t Time) Resolve(now int64) (ms int64, ok bool) {
	switch t.kind {
	case KindAbsolute:
		return t.ms, true
	case KindNow:
		return now, true
	default:
		return 0, false
	}
}

func (t Time) String() string {
	switch t.kind {
	case KindNow:
		return nowLiteral
	case KindRelative:
		return t.expr
	default:
		return strconv.FormatInt(t.ms, 10)
	}
}

// MarshalJSON encodes absolute values as numbers and the others as strings.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.kind == KindAbsolute {
		return []byte(strconv.FormatInt(t.ms, 10)), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts a number, "now", or an expression string.
func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Expr(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("timeline time: %w", err)
	}
	*t = Abs(int64(f))
	return nil
}

// MarshalYAML mirrors MarshalJSON.
func (t Time) MarshalYAML() (any, error) {
	if t.kind == KindAbsolute {
		return t.ms, nil
	}
	return t.String(), nil
}

// UnmarshalYAML mirrors UnmarshalJSON.
func (t *Time) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("timeline time: expected scalar, got kind %d", value.Kind)
	}
	if value.Tag == "!!int" || value.Tag == "!!float" {
		f, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return fmt.Errorf("timeline time: %w", err)
		}
		*t = Abs(int64(f))
		return nil
	}
	*t = Expr(value.Value)
	return nil
}
