// SPDX-License-Identifier: MIT

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// UserConfig is the per-request slice of user preferences that influences
// search, caching scope and the SSE channel.
type UserConfig struct {
	Providers       []string `json:"providers"`
	Languages       []string `json:"languages"`
	ProviderTimeout int      `json:"providerTimeoutMs,omitempty"`
	ExcludeHI       bool     `json:"excludeHi,omitempty"`
	BypassCache     bool     `json:"bypassCache,omitempty"`

	// Sources toggles sub-feeds of aggregator providers.
	Sources map[string]bool `json:"sources,omitempty"`
}

// Hash returns the stable config hash used as the cache scoping key and the
// SSE channel identifier. Equal configs always hash equally; field order
// and slice order do not matter.
func (u UserConfig) Hash() string {
	c := u
	c.Providers = sortedCopy(u.Providers)
	c.Languages = sortedCopy(u.Languages)

	raw, err := json.Marshal(c)
	if err != nil {
		// UserConfig contains only marshal-safe fields; this cannot happen.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}
