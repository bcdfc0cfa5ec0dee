// Package secrets expone el snapshot de secretos (credenciales OIDC, allowlist,
// catálogo) como un árbol de solo lectura que conserva el orden del documento.
//
// El snapshot se relee en cada ciclo: una rotación de credenciales se ve en el
// próximo request sin reiniciar el proceso.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotList se retorna cuando se pide una lista y el valor es otra cosa.
	ErrNotList = errors.New("secrets: value is not a list")
	// ErrNotScalar se retorna cuando un elemento de lista no es escalar.
	ErrNotScalar = errors.New("secrets: list item is not a scalar")
)

// Section es un mapping ordenado. Los valores son string (escalares),
// []any (secuencias) o *Section (mappings anidados).
type Section struct {
	keys   []string
	values map[string]any
}

// NewSection crea una sección vacía.
func NewSection() *Section {
	return &Section{values: map[string]any{}}
}

// Put agrega o reemplaza una key conservando la posición original.
func (s *Section) Put(key string, v any) *Section {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = v
	return s
}

// Keys retorna las keys en orden de documento.
func (s *Section) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Get retorna el valor crudo de una key.
func (s *Section) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Has indica si la key existe (aunque su valor esté vacío).
func (s *Section) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// String retorna el valor escalar recortado, o "" si falta o no es escalar.
func (s *Section) String(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(str)
}

// Section retorna la sub-sección de una key.
func (s *Section) Section(key string) (*Section, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Section)
	return sub, ok && sub != nil
}

// Strings retorna una lista de escalares. Una key ausente no es error y un
// escalar suelto cuenta como lista de un elemento.
func (s *Section) Strings(key string) ([]string, error) {
	v, ok := s.Get(key)
	if !ok || v == nil || v == "" {
		return nil, nil
	}
	if str, ok := v.(string); ok {
		return []string{str}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotList, key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotScalar, key)
		}
		out = append(out, str)
	}
	return out, nil
}

// Sections retorna los elementos mapping de una lista (ej. el catálogo).
func (s *Section) Sections(key string) ([]*Section, error) {
	v, ok := s.Get(key)
	if !ok || v == nil || v == "" {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotList, key)
	}
	out := make([]*Section, 0, len(list))
	for _, item := range list {
		if sub, ok := item.(*Section); ok {
			out = append(out, sub)
		}
	}
	return out, nil
}

// Redacted copia la sección a un map plano, enmascarando las keys sensibles.
func (s *Section) Redacted(sensitive ...string) map[string]any {
	hide := make(map[string]struct{}, len(sensitive))
	for _, k := range sensitive {
		hide[k] = struct{}{}
	}
	return s.redacted(hide)
}

func (s *Section) redacted(hide map[string]struct{}) map[string]any {
	out := make(map[string]any, len(s.Keys()))
	for _, k := range s.Keys() {
		v := s.values[k]
		if _, ok := hide[k]; ok {
			out[k] = "***HIDDEN***"
			continue
		}
		if sub, ok := v.(*Section); ok {
			out[k] = sub.redacted(hide)
			continue
		}
		out[k] = v
	}
	return out
}

// =================================================================================
// PARSING
// =================================================================================

// Parse decodifica un documento YAML. Un documento vacío es una sección vacía.
func Parse(b []byte) (*Section, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("secrets: parse: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return NewSection(), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("secrets: top level must be a mapping")
	}
	return convertMapping(root), nil
}

func convert(n *yaml.Node) any {
	switch n.Kind {
	case yaml.AliasNode:
		if n.Alias != nil {
			return convert(n.Alias)
		}
		return nil
	case yaml.MappingNode:
		return convertMapping(n)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			out = append(out, convert(c))
		}
		return out
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return ""
		}
		return n.Value
	}
	return nil
}

func convertMapping(n *yaml.Node) *Section {
	s := NewSection()
	for i := 0; i+1 < len(n.Content); i += 2 {
		s.Put(n.Content[i].Value, convert(n.Content[i+1]))
	}
	return s
}

// FromMap construye una sección desde un map anidado. Go no ordena los maps,
// así que las keys quedan en orden alfabético.
func FromMap(m map[string]any) *Section {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := NewSection()
	for _, k := range keys {
		s.Put(k, fromValue(m[k]))
	}
	return s
}

func fromValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return FromMap(t)
	case *Section:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromValue(item)
		}
		return out
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// =================================================================================
// SOURCES
// =================================================================================

// Source entrega un snapshot fresco en cada llamada.
type Source interface {
	Snapshot(ctx context.Context) (*Section, error)
}

// FileSource lee el archivo en cada llamada; no cachea. Los .toml se leen
// con ParseTOML, el resto como YAML.
type FileSource struct {
	Path string
}

func (f FileSource) Snapshot(ctx context.Context) (*Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", f.Path, err)
	}
	if isTOML(f.Path) {
		return ParseTOML(b)
	}
	return Parse(b)
}

// Static es una fuente fija, útil en tests y en el CLI.
type Static struct {
	Root *Section
	Err  error
}

func (s Static) Snapshot(context.Context) (*Section, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Root == nil {
		return NewSection(), nil
	}
	return s.Root, nil
}
