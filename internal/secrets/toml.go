package secrets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ParseTOML decodifica un secrets.toml. El decoder devuelve maps, así que el
// orden del documento se reconstruye con MetaData.Keys().
func ParseTOML(b []byte) (*Section, error) {
	var raw map[string]any
	md, err := toml.Decode(string(b), &raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: parse toml: %w", err)
	}
	order := make(map[string]int, len(md.Keys()))
	for i, k := range md.Keys() {
		p := k.String()
		if _, seen := order[p]; !seen {
			order[p] = i
		}
	}
	return tomlTable(raw, "", order), nil
}

func tomlTable(m map[string]any, prefix string, order map[string]int) *Section {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return position(order, prefix, keys[i]) < position(order, prefix, keys[j])
	})
	s := NewSection()
	for _, k := range keys {
		s.Put(k, tomlValue(m[k], join(prefix, k), order))
	}
	return s
}

func tomlValue(v any, path string, order map[string]int) any {
	switch t := v.(type) {
	case map[string]any:
		return tomlTable(t, path, order)
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = tomlTable(item, path, order)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = tomlValue(item, path, order)
		}
		return out
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func position(order map[string]int, prefix, key string) int {
	if i, ok := order[join(prefix, key)]; ok {
		return i
	}
	return len(order)
}

// join arma el path como lo imprime toml.Key.String (con comillas si hace falta).
func join(prefix, key string) string {
	k := toml.Key{key}.String()
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

func isTOML(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".toml")
}
