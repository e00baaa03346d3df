package driver

import (
	"sort"
	"strconv"
	"strings"

	"github.com/newtron-network/extport/pkg/util"
)

// Identifier is a parsed "key=value;key=value;" driver configuration blob.
type Identifier struct {
	values map[string]string
	order  []string
}

// ParseIdentifier parses the identifier grammar:
//
//	identifier = { pair ";" } [ pair ]
//	pair       = key "=" value
//
// Keys are non-empty and may not contain "=" or ";"; values may not contain
// ";" and may be empty. Whitespace around keys is ignored. A repeated key or
// a segment without "=" is malformed.
func ParseIdentifier(s string) (*Identifier, error) {
	id := &Identifier{values: make(map[string]string)}
	for _, seg := range strings.Split(s, ";") {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		key, value, ok := strings.Cut(seg, "=")
		key = strings.TrimSpace(key)
		if !ok {
			return nil, util.NewMalformedKeyError(key, "expected key=value")
		}
		if key == "" {
			return nil, util.NewConfigError("empty key in identifier segment %q", seg)
		}
		if _, dup := id.values[key]; dup {
			return nil, util.NewMalformedKeyError(key, "repeated key")
		}
		id.values[key] = value
		id.order = append(id.order, key)
	}
	return id, nil
}

// Get returns the value of key and whether it is present.
func (id *Identifier) Get(key string) (string, bool) {
	v, ok := id.values[key]
	return v, ok
}

// GetOr returns the value of key or def when absent.
func (id *Identifier) GetOr(key, def string) string {
	if v, ok := id.values[key]; ok {
		return v
	}
	return def
}

// Require returns the value of key, failing when it is absent or empty.
func (id *Identifier) Require(key string) (string, error) {
	v, ok := id.values[key]
	if !ok {
		return "", util.NewMissingKeyError(key)
	}
	if v == "" {
		return "", util.NewMalformedKeyError(key, "empty value")
	}
	return v, nil
}

// RequireAll checks every key is present and returns the first failure.
func (id *Identifier) RequireAll(keys ...string) error {
	for _, k := range keys {
		if _, err := id.Require(k); err != nil {
			return err
		}
	}
	return nil
}

// Int parses key as an integer. ok is false when the key is absent; a
// present but non-numeric value is a malformed-key error.
func (id *Identifier) Int(key string) (n int, ok bool, err error) {
	v, present := id.values[key]
	if !present {
		return 0, false, nil
	}
	n, err = strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, true, util.NewMalformedKeyError(key, "not an integer")
	}
	return n, true, nil
}

// Keys returns the keys in the order they appeared.
func (id *Identifier) Keys() []string {
	return append([]string(nil), id.order...)
}

// String renders the identifier with keys sorted and secrets masked.
func (id *Identifier) String() string {
	keys := append([]string(nil), id.order...)
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v := id.values[k]
		if isSecret(k) {
			v = "****"
		}
		b.WriteString(k + "=" + v + ";")
	}
	return b.String()
}

func isSecret(key string) bool {
	switch key {
	case "pwd", "ssid_pass", "password":
		return true
	}
	return false
}
