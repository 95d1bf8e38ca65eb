// SPDX-License-Identifier: MIT

// Package providers implements the upstream subtitle provider clients and
// the shared search and download plumbing around them.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/submaker/submaker/internal/loginlock"
	"github.com/submaker/submaker/internal/subtitle"
)

// maxResultsPerLanguage bounds what a single client returns so one
// generous upstream cannot flood the merge stage.
const maxResultsPerLanguage = 14

// MediaType distinguishes movie from episode lookups.
type MediaType string

const (
	MediaMovie   MediaType = "movie"
	MediaEpisode MediaType = "episode"
)

// SearchRequest is the provider-independent search input.
type SearchRequest struct {
	Type      MediaType
	IMDBID    string // with or without the "tt" prefix
	TMDBID    string
	Title     string
	Year      int
	Season    int
	Episode   int
	Languages []string // canonical codes, see subtitle.CanonicalLanguage
	Filename  string   // video filename, used for ranking affinity upstream
	ExcludeHI bool
}

// Provider is one upstream subtitle source.
type Provider interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) ([]subtitle.Descriptor, error)

	// ResolveDownload turns a provider-local subtitle id into a direct
	// file URL, typically via a details or download-token call.
	ResolveDownload(ctx context.Context, localID string) (string, error)
}

// Deps carries what every client needs. Only the authenticated
// OpenSubtitles variant uses the credential and coordination fields.
type Deps struct {
	Client *http.Client
	APIKey string // provider specific, see factories

	Username string
	Password string
	Login    *loginlock.Coordinator
	Tokens   *loginlock.TokenStore
}

type factory func(Deps) Provider

var factories = map[string]factory{}

func register(name string, f factory) {
	factories[name] = f
}

// Available lists the registered provider names, sorted.
func Available() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates a registered provider.
func Build(name string, deps Deps) (Provider, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return f(deps), nil
}

// WarmupTargets maps enabled provider names onto the base URLs the
// connection warmer should keep alive. Unknown names are skipped.
func WarmupTargets(names []string) map[string]string {
	bases := map[string]string{
		"opensubtitles":    osV3BaseURL,
		"opensubtitles-v3": osV3BaseURL,
		"subdl":            subdlBaseURL,
		"subsource":        subsourceBaseURL,
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		if base, ok := bases[name]; ok {
			out[name] = base
		}
	}
	return out
}

// capPerLanguage truncates results so no language exceeds the per-client
// bound, preserving upstream order.
func capPerLanguage(in []subtitle.Descriptor) []subtitle.Descriptor {
	counts := make(map[string]int, 4)
	out := in[:0]
	for _, d := range in {
		if counts[d.LanguageCode] >= maxResultsPerLanguage {
			continue
		}
		counts[d.LanguageCode]++
		out = append(out, d)
	}
	return out
}
