// Package decode turns loose JSON payloads into typed command structs.
// Decoding is strict: unknown fields fail and numbers must fit their target
// field. Strings pass through unchanged unless the field is tagged
// `decode:"trim"`.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var numberType = reflect.TypeOf(json.Number(""))

// DecodeJSON decodes a JSON object into a new T using its json tags. An
// empty or null payload yields the zero T.
func DecodeJSON[T any](raw json.RawMessage) (*T, error) {
	var fields map[string]any
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("payload is not an object: %w", err)
		}
	}
	out := new(T)
	if err := Into(fields, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Into decodes fields into the struct pointed to by out.
func Into(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      out,
		ErrorUnused: true,
		DecodeHook:  numberHook,
	})
	if err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	if err := dec.Decode(fields); err != nil {
		var merr *mapstructure.Error
		if errors.As(err, &merr) {
			return errors.New(strings.Join(merr.Errors, "; "))
		}
		return err
	}
	trimTagged(reflect.ValueOf(out))
	return nil
}

// trimTagged trims surrounding whitespace from string fields tagged
// `decode:"trim"`. Identifiers opt in; free text is left byte for byte.
func trimTagged(v reflect.Value) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if !f.CanSet() || f.Kind() != reflect.String || t.Field(i).Tag.Get("decode") != "trim" {
			continue
		}
		f.SetString(strings.TrimSpace(f.String()))
	}
}

// numberHook converts json.Number for numeric fields and rejects it
// everywhere else, so {"roomID": 5} is not read as "5".
func numberHook(from, to reflect.Type, data any) (any, error) {
	if from != numberType {
		return data, nil
	}
	n := data.(json.Number)
	switch to.Kind() {
	case reflect.Ptr, reflect.Interface:
		return data, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := integral(n)
		if err != nil {
			return nil, err
		}
		if reflect.New(to).Elem().OverflowInt(i) {
			return nil, fmt.Errorf("number %s overflows %s", n, to.Kind())
		}
		return i, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := integral(n)
		if err != nil {
			return nil, err
		}
		if i < 0 || reflect.New(to).Elem().OverflowUint(uint64(i)) {
			return nil, fmt.Errorf("number %s out of range for %s", n, to.Kind())
		}
		return uint64(i), nil
	case reflect.Float32, reflect.Float64:
		return n.Float64()
	}
	return nil, fmt.Errorf("expected %s, got number %s", to.Kind(), n)
}

// integral accepts 3 and 3.0 but not 3.5.
func integral(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Errorf("number %s is not an integer", n)
	}
	return int64(f), nil
}
