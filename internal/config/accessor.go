package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "general.workspace").
// List elements are addressed by index, as in "instances.0.platform".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	var current any = m
	for _, key := range strings.Split(path, ".") {
		next, ok, err := child(current, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		current = next
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. String values are
// converted to the type of the target field, so "instances.0.phoneNumber"
// stays a string while "typing.autoStopMs" becomes a number.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	target, err := fieldType(reflect.TypeOf(*cfg), parts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	v, err := coerce(target, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	m, err := toMap(cfg)
	if err != nil {
		return err
	}
	var parent any = m
	for _, key := range parts[:len(parts)-1] {
		next, ok, err := child(parent, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		parent = next
	}

	last := parts[len(parts)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[last] = v
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(p) {
			return fmt.Errorf("invalid array index: %s", last)
		}
		p[idx] = v
	default:
		return fmt.Errorf("cannot traverse into %T at %s", parent, last)
	}

	newData, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(newData, cfg)
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// child steps one path element into a decoded map or list. A missing map
// key reports ok=false; a bad list index is an error.
func child(node any, key string) (any, bool, error) {
	switch v := node.(type) {
	case map[string]any:
		val, ok := v[key]
		return val, ok, nil
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false, fmt.Errorf("invalid array index: %s", key)
		}
		return v[idx], true, nil
	}
	return nil, false, fmt.Errorf("cannot traverse into %T at %s", node, key)
}

// fieldType resolves path against the config schema by json tag.
func fieldType(t reflect.Type, parts []string) (reflect.Type, error) {
	for _, key := range parts {
		switch t.Kind() {
		case reflect.Struct:
			f, ok := jsonField(t, key)
			if !ok {
				return nil, fmt.Errorf("unknown key %q", key)
			}
			t = f.Type
		case reflect.Slice:
			if _, err := strconv.Atoi(key); err != nil {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			t = t.Elem()
		default:
			return nil, fmt.Errorf("cannot traverse into %s at %s", t, key)
		}
	}
	return t, nil
}

func jsonField(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := range t.NumField() {
		f := t.Field(i)
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// coerce converts a command-line string to the kind of the target field.
// Comma-separated strings fill string lists.
func coerce(t reflect.Type, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch t.Kind() {
	case reflect.String:
		return s, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("expected a boolean, got %q", s)
		}
		return b, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", s)
		}
		return n, nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		return f, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			items := []any{}
			for _, item := range strings.Split(s, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			return items, nil
		}
	}
	return parseValue(s), nil
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	return s
}

// Sanitize returns a copy of the config with tokens and the storage DSN
// masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	for i, e := range copy.Instances {
		if e.Token != "" {
			copy.Instances[i].Token = maskString(e.Token)
		}
	}
	if copy.Storage.DSN != "" {
		copy.Storage.DSN = maskString(copy.Storage.DSN)
	}
	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		flattenValue(path, v, result)
	}
}

func flattenValue(path string, v any, result map[string]any) {
	switch val := v.(type) {
	case map[string]any:
		flattenMap(path, val, result)
	case []any:
		if len(val) == 0 {
			result[path] = val
		}
		for i, item := range val {
			flattenValue(path+"."+strconv.Itoa(i), item, result)
		}
	default:
		result[path] = val
	}
}
