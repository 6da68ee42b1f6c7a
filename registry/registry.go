// Package registry holds the static authorization context: which module
// identities may call the bridge and the canonical name Core knows each by.
package registry

import (
	"sort"
	"strings"
)

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	authorized map[string]struct{}
	origins    map[string]string
}

func New(authorized []string, origins map[string]string) *Registry {
	r := &Registry{
		authorized: make(map[string]struct{}, len(authorized)),
		origins:    make(map[string]string, len(origins)),
	}
	for _, id := range authorized {
		id = strings.TrimSpace(id)
		if id != "" {
			r.authorized[id] = struct{}{}
		}
	}
	for k, v := range origins {
		r.origins[k] = v
	}
	return r
}

// IsAuthorized reports whether clientID is allow-listed. An empty allow-list
// authorizes nobody.
func (r *Registry) IsAuthorized(clientID string) bool {
	if len(r.authorized) == 0 {
		return false
	}
	_, ok := r.authorized[clientID]
	return ok
}

// CanonicalOrigin maps a client identity to the name Core uses for it,
// falling back to the identity itself.
func (r *Registry) CanonicalOrigin(clientID string) string {
	if name, ok := r.origins[clientID]; ok {
		return name
	}
	return clientID
}

// Authorized returns the allow-list in sorted order.
func (r *Registry) Authorized() []string {
	out := make([]string, 0, len(r.authorized))
	for id := range r.authorized {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParseOriginMap parses "client:Name,other:Other". Entries without a colon
// are ignored.
func ParseOriginMap(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}
