// Package providercfg arma el descriptor del provider OIDC a partir del
// snapshot de secrets.
//
// Se reconocen tres layouts (root, named, legacy) que se prueban en ese orden.
// Gana el primero completo; si ninguno lo está se reportan juntos todos los
// problemas de todos los layouts.
package providercfg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/portalgate/internal/secrets"
)

// CallbackSuffix es el path con el que tiene que terminar todo redirect_uri.
const CallbackSuffix = "/oauth2callback"

const (
	// RootSection contiene los layouts root y named.
	RootSection = "auth"
	// LegacySection contiene el layout legacy.
	LegacySection = "oidc"
)

// Shape identifica el layout del que salió un ProviderConfig.
type Shape string

const (
	ShapeRoot   Shape = "root-block"
	ShapeNamed  Shape = "named-block"
	ShapeLegacy Shape = "legacy-block"
)

// Nombres de campos.
const (
	FieldClientID     = "client_id"
	FieldClientSecret = "client_secret"
	FieldRedirectURI  = "redirect_uri"
	FieldMetadataURL  = "metadata_discovery_url"
	FieldCookieSecret = "cookie_secret"

	fieldServerMetadataURL = "server_metadata_url"
	fieldDiscoveryURL      = "discovery_url"
)

// Motivos de Problem.
const (
	ReasonMissing        = "missing"
	ReasonSectionMissing = "section missing"
	ReasonNoCandidates   = "no named provider section"
	ReasonSuffix         = "must end with " + CallbackSuffix
)

// ErrInvalid matchea Problems vía errors.Is.
var ErrInvalid = errors.New("providercfg: provider configuration invalid")

// ProviderConfig es el descriptor canónico del provider.
type ProviderConfig struct {
	ClientID             string
	ClientSecret         string
	RedirectURI          string
	MetadataDiscoveryURL string
	CookieSecret         string

	// ProviderKey es el layout que matcheó.
	ProviderKey Shape
	// Name es la sub-sección en el layout named; vacío en los otros.
	Name string
}

// LoginProvider es el argumento provider que recibe el login widget.
func (p ProviderConfig) LoginProvider() string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.ProviderKey)
}

// Redacted retorna el descriptor con los dos secretos enmascarados.
func (p ProviderConfig) Redacted() map[string]string {
	return map[string]string{
		FieldClientID:     p.ClientID,
		FieldClientSecret: mask(p.ClientSecret),
		FieldRedirectURI:  p.RedirectURI,
		FieldMetadataURL:  p.MetadataDiscoveryURL,
		FieldCookieSecret: mask(p.CookieSecret),
		"provider_key":    string(p.ProviderKey),
		"name":            p.Name,
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***HIDDEN***"
}

// Problem es un campo faltante o inválido de un layout.
type Problem struct {
	Shape   Shape
	Section string
	Field   string
	Reason  string
}

func (p Problem) String() string {
	if p.Field == "" {
		return fmt.Sprintf("%s [%s]: %s", p.Shape, p.Section, p.Reason)
	}
	return fmt.Sprintf("%s [%s] %s: %s", p.Shape, p.Section, p.Field, p.Reason)
}

// Problems es el diagnóstico completo que retorna Validate.
type Problems []Problem

func (ps Problems) Error() string {
	lines := make([]string, len(ps))
	for i, p := range ps {
		lines[i] = p.String()
	}
	return "provider configuration invalid: " + strings.Join(lines, "; ")
}

func (ps Problems) Is(target error) bool { return target == ErrInvalid }

// Has indica si algún problem nombra ese layout y campo.
func (ps Problems) Has(shape Shape, field string) bool {
	for _, p := range ps {
		if p.Shape == shape && p.Field == field {
			return true
		}
	}
	return false
}

// Validate prueba los layouts root, named y legacy, en ese orden. Si falla, el
// error es un Problems con los problemas de todos los layouts.
func Validate(snap *secrets.Section) (ProviderConfig, error) {
	var all Problems

	cfg, probs := validateRoot(snap)
	if len(probs) == 0 {
		return cfg, nil
	}
	all = append(all, probs...)

	cfg, probs = validateNamed(snap)
	if len(probs) == 0 {
		return cfg, nil
	}
	all = append(all, probs...)

	cfg, probs = validateLegacy(snap)
	if len(probs) == 0 {
		return cfg, nil
	}
	all = append(all, probs...)

	return ProviderConfig{}, all
}

func validateRoot(snap *secrets.Section) (ProviderConfig, Problems) {
	sec, ok := snap.Section(RootSection)
	if !ok {
		return ProviderConfig{}, Problems{{Shape: ShapeRoot, Section: RootSection, Reason: ReasonSectionMissing}}
	}
	return flat(ShapeRoot, RootSection, sec)
}

func validateLegacy(snap *secrets.Section) (ProviderConfig, Problems) {
	sec, ok := snap.Section(LegacySection)
	if !ok {
		return ProviderConfig{}, Problems{{Shape: ShapeLegacy, Section: LegacySection, Reason: ReasonSectionMissing}}
	}
	return flat(ShapeLegacy, LegacySection, sec)
}

// flat valida un layout con los cinco campos en una misma sección.
func flat(shape Shape, name string, sec *secrets.Section) (ProviderConfig, Problems) {
	cfg := ProviderConfig{
		ClientID:             sec.String(FieldClientID),
		ClientSecret:         sec.String(FieldClientSecret),
		RedirectURI:          sec.String(FieldRedirectURI),
		MetadataDiscoveryURL: metadataURL(sec),
		CookieSecret:         sec.String(FieldCookieSecret),
		ProviderKey:          shape,
	}
	var probs Problems
	probs = requireFields(probs, shape, name, map[string]string{
		FieldClientID:     cfg.ClientID,
		FieldClientSecret: cfg.ClientSecret,
		FieldRedirectURI:  cfg.RedirectURI,
		FieldMetadataURL:  cfg.MetadataDiscoveryURL,
		FieldCookieSecret: cfg.CookieSecret,
	}, FieldClientID, FieldClientSecret, FieldRedirectURI, FieldMetadataURL, FieldCookieSecret)
	probs = checkSuffix(probs, shape, name, cfg.RedirectURI)
	if len(probs) > 0 {
		return ProviderConfig{}, probs
	}
	return cfg, nil
}

// validateNamed elige la primera sub-sección de auth, en orden de documento,
// con los campos completos. Primer match, no el mejor.
func validateNamed(snap *secrets.Section) (ProviderConfig, Problems) {
	parent, ok := snap.Section(RootSection)
	if !ok {
		return ProviderConfig{}, Problems{{Shape: ShapeNamed, Section: RootSection, Reason: ReasonSectionMissing}}
	}

	redirect := parent.String(FieldRedirectURI)
	cookie := parent.String(FieldCookieSecret)

	var probs Problems
	probs = requireFields(probs, ShapeNamed, RootSection, map[string]string{
		FieldRedirectURI:  redirect,
		FieldCookieSecret: cookie,
	}, FieldRedirectURI, FieldCookieSecret)
	probs = checkSuffix(probs, ShapeNamed, RootSection, redirect)
	parentOK := len(probs) == 0

	var (
		found    bool
		selected ProviderConfig
		subProbs Problems
	)
	candidates := 0
	for _, key := range parent.Keys() {
		sub, ok := parent.Section(key)
		if !ok {
			continue
		}
		candidates++
		section := RootSection + "." + key
		cfg := ProviderConfig{
			ClientID:             sub.String(FieldClientID),
			ClientSecret:         sub.String(FieldClientSecret),
			MetadataDiscoveryURL: metadataURL(sub),
			RedirectURI:          redirect,
			CookieSecret:         cookie,
			ProviderKey:          ShapeNamed,
			Name:                 key,
		}
		missing := requireFields(nil, ShapeNamed, section, map[string]string{
			FieldClientID:     cfg.ClientID,
			FieldClientSecret: cfg.ClientSecret,
			FieldMetadataURL:  cfg.MetadataDiscoveryURL,
		}, FieldClientID, FieldClientSecret, FieldMetadataURL)
		if len(missing) == 0 {
			found, selected = true, cfg
			break
		}
		subProbs = append(subProbs, missing...)
	}

	if candidates == 0 {
		probs = append(probs, Problem{Shape: ShapeNamed, Section: RootSection, Reason: ReasonNoCandidates})
	} else if !found {
		probs = append(probs, subProbs...)
	}
	if found && parentOK {
		return selected, nil
	}
	return ProviderConfig{}, probs
}

// metadataURL aplica los sinónimos: server_metadata_url es alias del campo
// canónico y discovery_url solo se usa si faltan los dos.
func metadataURL(sec *secrets.Section) string {
	if v := sec.String(FieldMetadataURL); v != "" {
		return v
	}
	if v := sec.String(fieldServerMetadataURL); v != "" {
		return v
	}
	return sec.String(fieldDiscoveryURL)
}

func requireFields(probs Problems, shape Shape, section string, values map[string]string, order ...string) Problems {
	for _, f := range order {
		if values[f] == "" {
			probs = append(probs, Problem{Shape: shape, Section: section, Field: f, Reason: ReasonMissing})
		}
	}
	return probs
}

func checkSuffix(probs Problems, shape Shape, section, redirect string) Problems {
	if redirect != "" && !strings.HasSuffix(redirect, CallbackSuffix) {
		probs = append(probs, Problem{Shape: shape, Section: section, Field: FieldRedirectURI, Reason: ReasonSuffix})
	}
	return probs
}
