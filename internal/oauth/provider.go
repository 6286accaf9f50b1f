// Package oauth implementa el intercambio de código con proveedores externos y
// entrega al core una identidad ya verificada.
package oauth

import (
	"context"
	"errors"
	"sort"
	"strings"

	"berrymix-auth/internal/domain"
)

// IdentityProvider es la capacidad mínima que el core necesita de un proveedor OAuth.
type IdentityProvider interface {
	Name() string
	AuthCodeURL(state string) string
	ExchangeCodeForIdentity(ctx context.Context, code string) (domain.OAuthIdentity, error)
}

var (
	ErrUnknownProvider  = errors.New("unknown oauth provider")
	ErrExchangeFailed   = errors.New("oauth code exchange failed")
	ErrEmailUnavailable = errors.New("oauth provider returned no verified email")
)

// Registry indexa proveedores configurados por nombre.
type Registry struct {
	providers map[string]IdentityProvider
}

func NewRegistry(providers ...IdentityProvider) *Registry {
	r := &Registry{providers: make(map[string]IdentityProvider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[strings.ToLower(p.Name())] = p
		}
	}
	return r
}

func (r *Registry) Get(name string) (IdentityProvider, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// splitName separa "Nombre Apellido" en sus partes; todo lo posterior al primer espacio es apellido.
func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}
