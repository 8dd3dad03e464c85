package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/adnanbaig/browserfarm/internal/fault"
)

// Fingerprint derives a canonical, stable key from an arbitrary nested
// configuration value. Mappings are rendered with sorted keys, sequences
// keep their order (argument lists are order-significant and pass
// through untouched), scalars render with a type tag. Structurally
// equal configurations always produce the same fingerprint, regardless
// of how the caller assembled them.
func Fingerprint(config map[string]any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, config); err != nil {
		return "", fault.Wrap(err, fault.KindConfigurationInvalid, err.Error())
	}
	return digest.FromString(b.String()).Encoded(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("z")
	case bool:
		fmt.Fprintf(b, "b:%t", val)
	case string:
		fmt.Fprintf(b, "s:%q", val)
	case int:
		fmt.Fprintf(b, "i:%d", val)
	case int64:
		fmt.Fprintf(b, "i:%d", val)
	case float64:
		// JSON decoding yields float64 for every number; render
		// integral values without the fraction so 2 and 2.0 agree
		if val == float64(int64(val)) {
			fmt.Fprintf(b, "i:%d", int64(val))
		} else {
			fmt.Fprintf(b, "f:%g", val)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("m{")
		for _, k := range keys {
			fmt.Fprintf(b, "%q=", k)
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
			b.WriteString(";")
		}
		b.WriteString("}")
	case []any:
		b.WriteString("l[")
		for _, item := range val {
			if err := writeCanonical(b, item); err != nil {
				return err
			}
			b.WriteString(";")
		}
		b.WriteString("]")
	case []string:
		b.WriteString("l[")
		for _, item := range val {
			fmt.Fprintf(b, "s:%q;", item)
		}
		b.WriteString("]")
	default:
		return writeReflected(b, v)
	}
	return nil
}

// writeReflected covers maps and sequences built with concrete element
// types that the fast path above does not name
func writeReflected(b *strings.Builder, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		b.WriteString("l[")
		for i := 0; i < rv.Len(); i++ {
			if err := writeCanonical(b, rv.Index(i).Interface()); err != nil {
				return err
			}
			b.WriteString(";")
		}
		b.WriteString("]")
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("configuration map keys must be strings, got %s", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		b.WriteString("m{")
		for _, k := range keys {
			fmt.Fprintf(b, "%q=", k)
			if err := writeCanonical(b, rv.MapIndex(reflect.ValueOf(k)).Interface()); err != nil {
				return err
			}
			b.WriteString(";")
		}
		b.WriteString("}")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fmt.Fprintf(b, "i:%d", rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fmt.Fprintf(b, "i:%d", rv.Uint())
	case reflect.Float32, reflect.Float64:
		fmt.Fprintf(b, "f:%g", rv.Float())
	default:
		return fmt.Errorf("configuration value of type %T cannot be normalized", v)
	}
	return nil
}
