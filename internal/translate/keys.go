// SPDX-License-Identifier: MIT

// Package translate builds and caches AI subtitle translations.
package translate

import "fmt"

// bypassScopePrefix separates per-user bypass entries from the shared
// permanent cache within the same base key family.
const bypassScopePrefix = "__u_"

// Keys is the resolved cache addressing for one translation request.
type Keys struct {
	// BaseKey identifies the source file and target language, shared by
	// every user: "<sourceFileID>_<lang>".
	BaseKey string

	// CacheKey is the storage key actually read and written. Equal to
	// BaseKey for permanent entries, BaseKey + "__u_<configHash>" for
	// bypass entries.
	CacheKey string

	// RuntimeKey serializes concurrent builders of the same CacheKey.
	RuntimeKey string

	// BypassEnabled reports whether the bypass scope took effect. A
	// bypass request without a config hash cannot be scoped per user and
	// silently degrades to the shared entry.
	BypassEnabled bool
}

// GenerateCacheKeys resolves cache addressing. It is a pure function:
// everything downstream (storage, singleflight, activity events) derives
// its keying from this one place.
func GenerateCacheKeys(sourceFileID, lang string, bypassCache bool, configHash string) Keys {
	base := fmt.Sprintf("%s_%s", sourceFileID, lang)
	k := Keys{BaseKey: base, CacheKey: base}
	if bypassCache && configHash != "" {
		k.CacheKey = base + bypassScopePrefix + configHash
		k.BypassEnabled = true
	}
	k.RuntimeKey = "translate:" + k.CacheKey
	return k
}
