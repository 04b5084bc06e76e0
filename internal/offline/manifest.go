package offline

import (
	"net/url"
	"strings"

	"github.com/liftmate/liftmate/internal/errors"
)

// Manifest is the ordered list of assets a worker version guarantees to have
// cached after install.
type Manifest struct {
	// Scope is the absolute base URL relative entries resolve against.
	Scope *url.URL
	// URLs are the resolved, de-duplicated cache keys in manifest order.
	URLs []string
}

// ResolveManifest resolves entries against scope. Duplicate entries (after
// resolution) are kept once, at their first position.
func ResolveManifest(scope string, entries []string) (*Manifest, error) {
	base, err := parseScope(scope)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Newf("manifest is empty").
			Component("offline").
			Category(errors.CategoryValidation).
			Context("scope", scope).
			Build()
	}

	seen := make(map[string]struct{}, len(entries))
	urls := make([]string, 0, len(entries))
	for _, entry := range entries {
		resolved, err := resolve(base, entry)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		urls = append(urls, resolved)
	}
	return &Manifest{Scope: base, URLs: urls}, nil
}

// Resolve resolves a (possibly relative) URL against the manifest scope and
// returns its cache key.
func (m *Manifest) Resolve(ref string) (string, error) {
	return resolve(m.Scope, ref)
}

// Contains reports whether key is part of the manifest.
func (m *Manifest) Contains(key string) bool {
	for _, u := range m.URLs {
		if u == key {
			return true
		}
	}
	return false
}

func parseScope(scope string) (*url.URL, error) {
	base, err := url.Parse(scope)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return nil, errors.Newf("scope %q must be an absolute URL", scope).
			Component("offline").
			Category(errors.CategoryValidation).
			Build()
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	base.RawQuery = ""
	base.Fragment = ""
	return base, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || ref == "" {
		return "", errors.Newf("invalid manifest entry %q", ref).
			Component("offline").
			Category(errors.CategoryValidation).
			Build()
	}
	return CacheKey(base.ResolveReference(u).String()), nil
}

// SameOrigin reports whether rawURL shares scheme and host with the scope.
func (m *Manifest) SameOrigin(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, m.Scope.Scheme) && strings.EqualFold(u.Host, m.Scope.Host)
}
