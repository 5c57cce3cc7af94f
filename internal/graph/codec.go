package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/notegraph/internal/engine"
)

// PropertyCodec converts property values to and from their stored text form.
type PropertyCodec interface {
	// Encode serializes v. Values that cannot be represented must fail.
	Encode(v any) (string, error)

	// Decode parses a stored value.
	Decode(s string) (any, error)
}

// JSONCodec stores property values as JSON text.
//
// Decoded numbers are float64, objects map[string]any and arrays []any, as
// with encoding/json. Integers too large for a float64 to hold exactly
// (beyond ±2^53) decode as int64 instead, so they survive a round trip.
type JSONCodec struct{}

// maxExactInt is the largest integer every float64 neighbourhood holds exactly.
const maxExactInt = 1 << 53

var errCycle = errors.New("value contains a reference cycle")

// Encode serializes v as JSON. Cyclic structures, NaN and infinities are
// rejected.
func (JSONCodec) Encode(v any) (string, error) {
	if err := checkCycles(reflect.ValueOf(v), map[uintptr]bool{}); err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses JSON text.
func (JSONCodec) Decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return fromNumbers(v)
}

// fromNumbers replaces every json.Number in v with float64, or int64 when
// the value is an integer outside float64's exact range.
func fromNumbers(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil && (i > maxExactInt || i < -maxExactInt) {
			return i, nil
		}
		return x.Float64()
	case map[string]any:
		for k, e := range x {
			n, err := fromNumbers(e)
			if err != nil {
				return nil, err
			}
			x[k] = n
		}
	case []any:
		for i, e := range x {
			n, err := fromNumbers(e)
			if err != nil {
				return nil, err
			}
			x[i] = n
		}
	}
	return v, nil
}

// checkCycles walks maps, slices and pointers looking for a container that
// contains itself. encoding/json would otherwise recurse until it gives up.
func checkCycles(v reflect.Value, onPath map[uintptr]bool) error {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkCycles(v.Elem(), onPath)

	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Slice && v.Len() == 0 {
			return nil
		}
		ptr := v.Pointer()
		if onPath[ptr] {
			return errCycle
		}
		onPath[ptr] = true
		defer delete(onPath, ptr)

		switch v.Kind() {
		case reflect.Pointer:
			return checkCycles(v.Elem(), onPath)
		case reflect.Map:
			iter := v.MapRange()
			for iter.Next() {
				if err := checkCycles(iter.Value(), onPath); err != nil {
					return err
				}
			}
		case reflect.Slice:
			for i := 0; i < v.Len(); i++ {
				if err := checkCycles(v.Index(i), onPath); err != nil {
					return err
				}
			}
		}

	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkCycles(v.Index(i), onPath); err != nil {
				return err
			}
		}

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				if err := checkCycles(v.Field(i), onPath); err != nil {
					return err
				}
			}
		}

	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("unsupported float value %v", f)
		}
	}
	return nil
}

// encodeProperties encodes every value of props, failing on the first value
// the codec rejects.
func encodeProperties(codec PropertyCodec, op string, props Properties) (map[string]string, error) {
	out := make(map[string]string, len(props))
	for key, value := range props {
		encoded, err := codec.Encode(value)
		if err != nil {
			return nil, &engine.Error{
				Code:    engine.ErrCodeSerialization,
				Op:      op,
				Message: fmt.Sprintf("property %q", key),
				Err:     err,
			}
		}
		out[key] = encoded
	}
	return out, nil
}

// normalize returns s in Unicode NFC so that visually identical type names
// and labels compare equal.
func normalize(s string) string {
	return norm.NFC.String(s)
}
