package config

import (
	"reflect"
	"time"
)

// Mask replaces redacted values in Settings output.
const Mask = "***"

// Settings returns the configuration as a nested map keyed by mapstructure tags.
// Fields tagged `secret:"true"` are always masked; any field that is non-zero in
// secrets (as returned by LoadWithSecrets) is masked too.
func (c *Config) Settings(secrets *Config) map[string]any {
	var mask reflect.Value
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	return settingsMap(reflect.ValueOf(c).Elem(), mask)
}

func settingsMap(v, mask reflect.Value) map[string]any {
	out := make(map[string]any, v.NumField())
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}

		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		switch {
		case value.Kind() == reflect.Struct:
			out[name] = settingsMap(value, maskValue)
		case field.Tag.Get("secret") == "true" && !value.IsZero():
			out[name] = Mask
		case shouldRedact(maskValue):
			out[name] = Mask
		default:
			if d, ok := value.Interface().(time.Duration); ok {
				out[name] = d.String()
				continue
			}
			out[name] = value.Interface()
		}
	}

	return out
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}

	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	case reflect.Bool:
		return v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	default:
		return false
	}
}
