// Package session guarda el estado por navegador del gate (GateSession).
//
// El navegador solo ve un id opaco en una cookie HttpOnly; el estado vive en el
// cache bajo "sid:"+sha256(id), así un volcado del cache no expone ids usables.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/portalgate/internal/cache"
)

// Keys conocidas del GateSession.
const (
	KeyRedirectedOnce     = "redirected_once"
	KeyDebugMode          = "debug_mode"
	KeyForceAuthenticated = "force_authenticated"
)

const keyPrefix = "sid:"

var ErrNoCookie = errors.New("session: no session cookie")

// Session es el estado de un navegador. Seguro para uso concurrente.
type Session struct {
	mu     sync.RWMutex
	id     string
	values map[string]string
	isNew  bool
}

func newSession(id string) *Session {
	return &Session{id: id, values: map[string]string{}, isNew: true}
}

// ID retorna el id crudo (el que va en la cookie).
func (s *Session) ID() string { return s.id }

// IsNew indica que la sesión no existía en el store.
func (s *Session) IsNew() bool { return s.isNew }

// Hash es el identificador que se usa en logs y en la key del cache.
func (s *Session) Hash() string { return hashID(s.id) }

func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// GetBool es true solo si la key vale "true".
func (s *Session) GetBool(key string) bool {
	v, _ := s.Get(key)
	return v == "true"
}

func (s *Session) SetBool(key string, v bool) {
	if v {
		s.Set(key, "true")
		return
	}
	s.Set(key, "false")
}

// Clear borra todas las keys (logout / retry).
func (s *Session) Clear() {
	s.mu.Lock()
	s.values = map[string]string{}
	s.mu.Unlock()
}

// Keys retorna las keys presentes, ordenadas.
func (s *Session) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Session) snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]string, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

// CookieConfig define cómo se emite la cookie de sesión.
type CookieConfig struct {
	Name     string
	Domain   string
	SameSite string // "", "lax", "strict", "none"
	Secure   bool
	TTL      time.Duration
	// PendingTTL aplica a sesiones nuevas que todavía no tienen identidad.
	PendingTTL time.Duration
}

// Store persiste sesiones en un cache.Client.
type Store struct {
	cache  cache.Client
	cookie CookieConfig
}

// DefaultCookieName es el nombre de la cookie cuando la config no define uno.
const DefaultCookieName = "portalgate_session"

// DefaultPendingTTL es la vida de una sesión nueva sin identidad.
const DefaultPendingTTL = 10 * time.Minute

// NewStore crea el store. TTL 0 usa 12h; PendingTTL 0 usa DefaultPendingTTL
// (acotado a TTL); nombre vacío usa DefaultCookieName.
func NewStore(c cache.Client, cc CookieConfig) *Store {
	if cc.TTL <= 0 {
		cc.TTL = 12 * time.Hour
	}
	if cc.PendingTTL <= 0 {
		cc.PendingTTL = DefaultPendingTTL
	}
	if cc.PendingTTL > cc.TTL {
		cc.PendingTTL = cc.TTL
	}
	if cc.Name == "" {
		cc.Name = DefaultCookieName
	}
	return &Store{cache: c, cookie: cc}
}

// CookieName retorna el nombre de la cookie de sesión.
func (st *Store) CookieName() string { return st.cookie.Name }

// Load devuelve la sesión de la request o una nueva si no hay cookie, la cookie
// es desconocida o expiró. Solo los errores del backend se propagan.
func (st *Store) Load(ctx context.Context, r *http.Request) (*Session, error) {
	ck, err := r.Cookie(st.cookie.Name)
	if err != nil || ck.Value == "" {
		return st.fresh()
	}
	raw, err := st.cache.Get(ctx, keyPrefix+hashID(ck.Value))
	if cache.IsNotFound(err) {
		return st.fresh()
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		// Entrada corrupta: se trata como sesión nueva.
		return st.fresh()
	}
	return &Session{id: ck.Value, values: values}, nil
}

func (st *Store) fresh() (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}
	return newSession(id), nil
}

// Save persiste la sesión y (re)emite la cookie, renovando el TTL.
func (st *Store) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	return st.save(ctx, w, s, st.cookie.TTL)
}

// SavePending persiste una sesión que todavía espera identidad. Si la sesión
// es nueva usa PendingTTL: los clientes sin cookie no ocupan el cache por 12h.
// Una sesión ya conocida se guarda con el TTL normal.
func (st *Store) SavePending(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.IsNew() {
		return st.save(ctx, w, s, st.cookie.PendingTTL)
	}
	return st.save(ctx, w, s, st.cookie.TTL)
}

func (st *Store) save(ctx context.Context, w http.ResponseWriter, s *Session, ttl time.Duration) error {
	b, err := json.Marshal(s.snapshot())
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := st.cache.Set(ctx, keyPrefix+s.Hash(), string(b), ttl); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	s.mu.Lock()
	s.isNew = false
	s.mu.Unlock()
	if w != nil {
		http.SetCookie(w, BuildSessionCookie(st.cookie.Name, s.id, st.cookie.Domain, st.cookie.SameSite, st.cookie.Secure, ttl))
	}
	return nil
}

// Destroy borra la sesión del backend y del navegador. La cookie de borrado se
// emite siempre. Si el Delete falla, la entrada se pisa con la sesión vacía;
// solo si eso también falla se retorna error.
func (st *Store) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	s.Clear()
	if w != nil {
		http.SetCookie(w, BuildDeletionCookie(st.cookie.Name, st.cookie.Domain, st.cookie.SameSite, st.cookie.Secure))
	}
	delErr := st.cache.Delete(ctx, keyPrefix+s.Hash())
	if delErr == nil {
		return nil
	}
	if err := st.cache.Set(ctx, keyPrefix+s.Hash(), "{}", st.cookie.PendingTTL); err != nil {
		return fmt.Errorf("session: destroy: %w", errors.Join(delErr, err))
	}
	return nil
}

// newID genera un id opaco de 32 bytes (base64url sin padding).
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
