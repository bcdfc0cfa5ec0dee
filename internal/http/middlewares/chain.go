package middlewares

import "net/http"

// Middleware decora un http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain envuelve h con mws; el primero de la lista es el más externo.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Stack agrupa los middlewares de un grupo de rutas (páginas, acciones POST).
type Stack []Middleware

// With retorna un Stack nuevo con mws al final; s no se modifica.
// Los nil se descartan, así un middleware deshabilitado no rompe el armado.
func (s Stack) With(mws ...Middleware) Stack {
	out := make(Stack, 0, len(s)+len(mws))
	out = append(out, s...)
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Then aplica el stack a h.
func (s Stack) Then(h http.Handler) http.Handler { return Chain(h, s...) }

// Funcs adapta el stack a la firma de chi.Router.Use.
func (s Stack) Funcs() []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, len(s))
	for i, m := range s {
		out[i] = m
	}
	return out
}
