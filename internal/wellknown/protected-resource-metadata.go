// Package wellknown holds the documents served under /.well-known/.
package wellknown

import "slices"

// ProtectedResourcePath is where OAuth 2.0 Protected Resource Metadata
// (RFC 9728) is served.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                      string   `json:"resource_name,omitempty"`
}

// NewProtectedResourceMetadata describes a resource that accepts bearer
// tokens in the Authorization header only. Scopes are sorted and deduplicated.
func NewProtectedResourceMetadata(resource, issuer, jwksURI string, algs, scopes []string) ProtectedResourceMetadata {
	md := ProtectedResourceMetadata{
		Resource:                          resource,
		JwksURI:                           jwksURI,
		BearerMethodsSupported:            []string{"header"},
		ResourceSigningAlgValuesSupported: slices.Clone(algs),
	}
	if issuer != "" {
		md.AuthorizationServers = []string{issuer}
	}
	for _, s := range scopes {
		if s != "" {
			md.ScopesSupported = append(md.ScopesSupported, s)
		}
	}
	slices.Sort(md.ScopesSupported)
	md.ScopesSupported = slices.Compact(md.ScopesSupported)
	return md
}
