// Package nut19 implements the cached response replay described in
// [NUT-19]: the wallet keys a mint's POST responses on
// method‖":"‖path‖":"‖sha256(body) so retrying an interrupted mint,
// swap, or melt call can't double-spend on the mint's side.
//
// [NUT-19]: https://github.com/cashubtc/nuts/blob/main/19.md
package nut19

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/elnosh/gonuts/cashu/nuts/nut06"
)

// CachedEndpoint identifies a mint operation whose POST responses may
// be replayed from cache when the mint advertises support for it via
// NutSetting in the info response.
type CachedEndpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Settings describes which endpoints a mint caches and for how long.
type Settings struct {
	TTL             *uint64          `json:"ttl"`
	CachedEndpoints []CachedEndpoint `json:"cached_endpoints"`
}

var CacheableEndpoints = []CachedEndpoint{
	{Method: "POST", Path: "/v1/mint/bolt11"},
	{Method: "POST", Path: "/v1/melt/bolt11"},
	{Method: "POST", Path: "/v1/swap"},
}

// SupportsCaching reports whether path is listed among the mint's
// cached endpoints.
func (s Settings) SupportsCaching(path string) bool {
	for _, e := range s.CachedEndpoints {
		if e.Path == path {
			return true
		}
	}
	return false
}

// ParseSettings extracts a mint's NUT-19 settings from its advertised
// info. The second return value is false when the mint doesn't list
// nut 19 at all.
func ParseSettings(mintInfo *nut06.MintInfo) (Settings, bool) {
	if mintInfo == nil {
		return Settings{}, false
	}
	raw, ok := mintInfo.Nuts[19]
	if !ok {
		return Settings{}, false
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Settings{}, false
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, false
	}
	return settings, true
}

// Key builds the cache key for an outgoing request per NUT-19:
// method‖":"‖path‖":"‖sha256(body) hex-encoded.
func Key(method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return method + ":" + path + ":" + hex.EncodeToString(sum[:])
}

// Cache stores raw mint response bodies keyed by Key. A nil *Cache is
// a valid, always-empty cache, so callers can pass one unconditionally
// for mints that don't advertise NUT-19 support.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string][]byte)}
}

func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.entries[key]
	return body, ok
}

func (c *Cache) Put(key string, body []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = body
}
