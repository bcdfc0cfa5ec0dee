// Package allowlist decide si un email autenticado puede pasar el gate.
package allowlist

import (
	"strings"

	"github.com/dropDatabas3/portalgate/internal/secrets"
)

// Sección y keys que se leen del snapshot de secrets.
const (
	DefaultSection = "auth"
	KeyEmails      = "allowed_emails"
	KeyDomains     = "allowed_domains"
)

// ErrorPolicy define el resultado cuando el allowlist no se puede leer.
type ErrorPolicy int

const (
	FailOpen ErrorPolicy = iota
	FailClosed
)

func (p ErrorPolicy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// OnReadError es el default del paquete: un allowlist ilegible deja pasar.
const OnReadError = FailOpen

// Set guarda emails y dominios normalizados. Ambos vacíos = todos pasan.
type Set struct {
	Emails  map[string]struct{}
	Domains map[string]struct{}
}

// NewSet normaliza (trim + lowercase) y descarta entradas vacías.
func NewSet(emails, domains []string) Set {
	return Set{Emails: normalize(emails), Domains: normalize(domains)}
}

func (s Set) Empty() bool { return len(s.Emails) == 0 && len(s.Domains) == 0 }

func normalize(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

// IsAuthorized aplica el allowlist. Un email vacío nunca pasa; un set vacío
// autoriza cualquier email no vacío. Los dominios matchean exacto (sin
// subdominios).
func IsAuthorized(email string, set Set) bool {
	if strings.TrimSpace(email) == "" {
		return false
	}
	if set.Empty() {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	domain := ""
	if i := strings.LastIndex(email, "@"); i >= 0 {
		domain = email[i+1:]
	}
	if _, ok := set.Emails[email]; ok {
		return true
	}
	if domain == "" {
		return false
	}
	_, ok := set.Domains[domain]
	return ok
}

// FromSnapshot lee el allowlist de la sección indicada. Una sección ausente
// es un set vacío. Un valor escalar cuenta como lista de un elemento.
func FromSnapshot(snap *secrets.Section, section string) (Set, error) {
	if section == "" {
		section = DefaultSection
	}
	sec, ok := snap.Section(section)
	if !ok {
		return Set{}, nil
	}
	emails, err := sec.Strings(KeyEmails)
	if err != nil {
		return Set{}, err
	}
	domains, err := sec.Strings(KeyDomains)
	if err != nil {
		return Set{}, err
	}
	return NewSet(emails, domains), nil
}

// Policy junta la ubicación del allowlist y qué hacer si no se puede leer.
type Policy struct {
	Section     string
	OnReadError ErrorPolicy
}

// Decision es el resultado de Check. ReadErr se setea cuando se aplicó
// OnReadError.
type Decision struct {
	Allowed bool
	ReadErr error
}

// Check lee el allowlist de snap y autoriza email.
func (p Policy) Check(email string, snap *secrets.Section) Decision {
	if strings.TrimSpace(email) == "" {
		return Decision{}
	}
	set, err := FromSnapshot(snap, p.Section)
	if err != nil {
		return Decision{Allowed: p.OnReadError == FailOpen, ReadErr: err}
	}
	return Decision{Allowed: IsAuthorized(email, set)}
}
