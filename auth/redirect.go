package auth

import (
	"strings"

	"stonetify/models"
	"stonetify/oautherr"
)

type RedirectParams struct {
	Provider              models.Provider
	RequestedURI          string
	DefaultURI            string
	AdditionalAllowedURIs []string
	ExtraAllowedURIs      []string
}

type RedirectResolution struct {
	RedirectURI string
	Allowed     []string
}

// AllowedRedirectURIs merges the configured URIs in order, dropping blanks and
// duplicates.
func AllowedRedirectURIs(defaultURI string, lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(uri string) {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			return
		}
		if _, ok := seen[uri]; ok {
			return
		}
		seen[uri] = struct{}{}
		out = append(out, uri)
	}
	add(defaultURI)
	for _, list := range lists {
		for _, uri := range list {
			add(uri)
		}
	}
	return out
}

// ResolveRedirectURI checks a caller supplied redirect URI against the
// provider's allow-list. A URI matches an entry exactly or with a query or
// fragment appended. With no requested URI the first allowed entry is used.
func ResolveRedirectURI(p RedirectParams) (RedirectResolution, error) {
	const op = "auth.ResolveRedirectURI"
	allowed := AllowedRedirectURIs(p.DefaultURI, p.AdditionalAllowedURIs, p.ExtraAllowedURIs)

	requested := strings.TrimSpace(p.RequestedURI)
	if requested == "" {
		if len(allowed) == 0 {
			return RedirectResolution{}, oautherr.MissingConfig(op, "no redirect URI configured for "+p.Provider.String())
		}
		return RedirectResolution{RedirectURI: allowed[0], Allowed: allowed}, nil
	}

	for _, uri := range allowed {
		if redirectMatches(requested, uri) {
			return RedirectResolution{RedirectURI: requested, Allowed: allowed}, nil
		}
	}
	return RedirectResolution{}, oautherr.InvalidRedirect(op, requested, allowed)
}

func redirectMatches(requested, allowed string) bool {
	if requested == allowed {
		return true
	}
	if !strings.HasPrefix(requested, allowed) {
		return false
	}
	next := requested[len(allowed)]
	return next == '?' || next == '#'
}
