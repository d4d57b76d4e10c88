// Package nut22 contains structs as defined in [NUT-22] (blind
// authentication).
//
// Blind auth tokens (BATs) are proofs over a mint-specific auth
// keyset: the wallet exchanges a NUT-21 clear-auth token for a batch
// of blind signatures at /v1/auth/blind/mint, then spends one BAT per
// protected request via the Blind-auth header. A spent BAT is never
// reused; the wallet mints a new batch only when
// Wallet.MintBlindAuthTokens is called.
//
// [NUT-22]: https://github.com/cashubtc/nuts/blob/main/22.md
package nut22

import "github.com/elnosh/gonuts/cashu"

const BlindAuthHeader = "Blind-auth"

// ProtectedEndpoint names an HTTP method and path that requires a
// blind-auth token.
type ProtectedEndpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Settings is the NUT-22 entry of a mint's info response.
type Settings struct {
	BatMaxMint         uint64              `json:"bat_max_mint"`
	ProtectedEndpoints []ProtectedEndpoint `json:"protected_endpoints"`
}

func (s Settings) RequiresAuth(method, path string) bool {
	for _, e := range s.ProtectedEndpoints {
		if e.Method == method && e.Path == path {
			return true
		}
	}
	return false
}

// PostAuthBlindMintRequest requests new BATs be signed against the
// mint's current auth keyset, authorized by a NUT-21 clear-auth token
// carried in the request's Clear-auth header rather than its body.
type PostAuthBlindMintRequest struct {
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostAuthBlindMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
