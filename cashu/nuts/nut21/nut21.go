// Package nut21 contains structs as defined in [NUT-21] (clear
// authentication).
//
// [NUT-21]: https://github.com/cashubtc/nuts/blob/main/21.md
package nut21

// ProtectedEndpoint names an HTTP method and path that requires a
// Clear-auth (or, via NUT-22, Blind-auth) header to access.
type ProtectedEndpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Settings is the NUT-21 entry of a mint's info response.
type Settings struct {
	OpenIdDiscovery    string              `json:"openid_discovery"`
	ClientId           string              `json:"client_id"`
	ProtectedEndpoints []ProtectedEndpoint `json:"protected_endpoints"`
}

// RequiresAuth reports whether method+path is listed as protected.
func (s Settings) RequiresAuth(method, path string) bool {
	for _, e := range s.ProtectedEndpoints {
		if e.Method == method && e.Path == path {
			return true
		}
	}
	return false
}

const ClearAuthHeader = "Clear-auth"
