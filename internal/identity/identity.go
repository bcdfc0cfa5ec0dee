// Package identity obtiene el email canónico del usuario a partir de lo que
// exponga el login widget: un objeto con accessors, un mapping de claims o
// keys guardadas en la sesión.
//
// Resolve nunca falla. Un panic o error al leer un candidato cuenta como
// "ausente" y la cadena sigue.
package identity

import (
	"fmt"
	"strings"
)

// Provenance indica de dónde se leyó la identidad.
type Provenance string

const (
	FromAttribute Provenance = "attribute"
	FromMapping   Provenance = "mapping"
	FromSession   Provenance = "session"
)

// AttributeNames se leen, en orden, del objeto user.
var AttributeNames = []string{"email", "primaryEmail", "preferred_username"}

// SessionKeys son las keys de fallback en la sesión, en orden.
var SessionKeys = []string{"user_email", "email", "oidc_email"}

// Identity es un string tipo email. Email vacío = sin identidad.
type Identity struct {
	Email  string
	Source Provenance
}

func (i Identity) Empty() bool { return i.Email == "" }

// SessionReader es el lado de lectura del store de sesión.
type SessionReader interface {
	Get(key string) (string, bool)
}

// Handle es lo que recibe el gate en cada ciclo.
type Handle struct {
	// User es el objeto que expone el login widget, si hay.
	User any
	// LoggedIn es el flag del widget. Sin él, User se ignora.
	LoggedIn bool
	// Session puede ser nil.
	Session SessionReader
}

// Accessors que puede implementar el objeto user.
type (
	EmailGetter             interface{ Email() string }
	PrimaryEmailGetter      interface{ PrimaryEmail() string }
	PreferredUsernameGetter interface{ PreferredUsername() string }

	// AttributeReader es el accessor genérico por nombre.
	AttributeReader interface {
		Attribute(name string) (string, error)
	}
)

// Extractor retorna un valor no vacío y true si encontró identidad.
type Extractor func(h Handle) (string, bool)

type link struct {
	source  Provenance
	extract Extractor
}

// Resolver recorre una cadena fija de extractors; gana el primero que encuentra.
type Resolver struct {
	chain []link
}

// NewResolver arma la cadena default: attribute, mapping, session y, como
// último recurso, el String() del user si parece un email.
func NewResolver() *Resolver {
	return &Resolver{chain: []link{
		{FromAttribute, AttributeExtractor},
		{FromMapping, MappingExtractor},
		{FromSession, SessionExtractor},
		{FromAttribute, StringerExtractor},
	}}
}

// Resolve retorna la primera identidad encontrada o una Identity vacía.
func (r *Resolver) Resolve(h Handle) Identity {
	for _, l := range r.chain {
		if v, ok := safe(func() (string, bool) { return l.extract(h) }); ok {
			return Identity{Email: v, Source: l.source}
		}
	}
	return Identity{}
}

// AttributeExtractor lee los accessors del objeto user.
func AttributeExtractor(h Handle) (string, bool) {
	if !h.LoggedIn || h.User == nil {
		return "", false
	}
	u := h.User
	for _, name := range AttributeNames {
		if v, ok := safe(func() (string, bool) { return readAccessor(u, name) }); ok {
			return v, true
		}
	}
	return "", false
}

func readAccessor(u any, name string) (string, bool) {
	switch name {
	case "email":
		if g, ok := u.(EmailGetter); ok {
			if v := clean(g.Email()); v != "" {
				return v, true
			}
		}
	case "primaryEmail":
		if g, ok := u.(PrimaryEmailGetter); ok {
			if v := clean(g.PrimaryEmail()); v != "" {
				return v, true
			}
		}
	case "preferred_username":
		if g, ok := u.(PreferredUsernameGetter); ok {
			if v := clean(g.PreferredUsername()); v != "" {
				return v, true
			}
		}
	}
	if r, ok := u.(AttributeReader); ok {
		v, err := r.Attribute(name)
		if err == nil && clean(v) != "" {
			return clean(v), true
		}
	}
	return "", false
}

// MappingExtractor trata al user como un mapping key-value.
func MappingExtractor(h Handle) (string, bool) {
	if !h.LoggedIn || h.User == nil {
		return "", false
	}
	for _, name := range AttributeNames {
		var raw any
		switch m := h.User.(type) {
		case map[string]any:
			raw = m[name]
		case map[string]string:
			raw = m[name]
		default:
			return "", false
		}
		if v := asString(raw); v != "" {
			return v, true
		}
	}
	return "", false
}

// SessionExtractor lee las keys de fallback de la sesión.
func SessionExtractor(h Handle) (string, bool) {
	if h.Session == nil {
		return "", false
	}
	for _, key := range SessionKeys {
		if v, ok := h.Session.Get(key); ok {
			if v = clean(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// StringerExtractor acepta el String() del user si contiene "@".
func StringerExtractor(h Handle) (string, bool) {
	if !h.LoggedIn || h.User == nil {
		return "", false
	}
	s, ok := h.User.(fmt.Stringer)
	if !ok {
		return "", false
	}
	if v := clean(s.String()); strings.Contains(v, "@") {
		return v, true
	}
	return "", false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return clean(t)
	case fmt.Stringer:
		return clean(t.String())
	}
	return ""
}

func clean(s string) string { return strings.TrimSpace(s) }

// safe corre fn; un panic cuenta como ausente.
func safe(fn func() (string, bool)) (v string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v, ok = "", false
		}
	}()
	return fn()
}
