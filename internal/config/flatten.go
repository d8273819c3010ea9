package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Entry is one dot-separated config key and its value.
type Entry struct {
	Key    string
	Value  any
	Secret bool
}

// field describes a settable leaf of Config.
type field struct {
	key  string
	kind reflect.Kind
}

var fields = configFields(reflect.TypeOf(Config{}), "")

func configFields(t reflect.Type, prefix string) []field {
	var out []field
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := prefix + name
		if f.Type.Kind() == reflect.Struct {
			out = append(out, configFields(f.Type, key+".")...)
			continue
		}
		out = append(out, field{key: key, kind: f.Type.Kind()})
	}
	return out
}

func lookupField(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Keys returns every settable config key in declaration order.
func Keys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	return keys
}

// IsSecretKey reports whether key holds a credential: the API key and
// any bridge token.
func IsSecretKey(key string) bool {
	last := key[strings.LastIndex(key, ".")+1:]
	return last == "api_key" || last == "token"
}

// Flatten lists the leaves of a nested JSON map as dot-separated entries,
// sorted by key.
func Flatten(m map[string]any) []Entry {
	var out []Entry
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if child, ok := v.(map[string]any); ok {
				walk(prefix+k+".", child)
				continue
			}
			out = append(out, Entry{Key: prefix + k, Value: v, Secret: IsSecretKey(prefix + k)})
		}
	}
	walk("", m)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// lookup returns the value under a dot-separated key of a nested map.
func lookup(m map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			return nil, false
		}
		m = child
	}
	v, ok := m[parts[len(parts)-1]]
	return v, ok
}

// assign stores v under a dot-separated key, creating sections as needed.
func assign(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = v
}

// parseValue converts a command line value to the type of the field at key.
// String fields keep the text as given, so an assistant id of "42" stays a
// string.
func parseValue(f field, value string) (any, error) {
	switch f.kind {
	case reflect.String:
		return value, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", f.key, value)
		}
		return b, nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s expects a whole number, got %q", f.key, value)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%s cannot be set from the command line", f.key)
	}
}

// Mask hides all but the last four characters of a secret value.
func Mask(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}
