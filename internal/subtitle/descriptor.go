// SPDX-License-Identifier: MIT

// Package subtitle holds the domain model shared by providers, the ranker
// and the translation pipeline.
package subtitle

import (
	"fmt"
	"strings"
)

// Descriptor is the immutable record a provider produces for one candidate
// subtitle. Its ID alone is sufficient to re-download the file later.
type Descriptor struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`

	Language     string `json:"language"`
	LanguageCode string `json:"languageCode"`

	// Name is the release name, cleaned of prefixes and extensions.
	Name   string `json:"name"`
	Format Format `json:"format"`

	Downloads int     `json:"downloads"`
	Rating    float64 `json:"rating"`

	HearingImpaired   bool `json:"hearingImpaired"`
	ForeignPartsOnly  bool `json:"foreignPartsOnly"`
	MachineTranslated bool `json:"machineTranslated"`

	IsSeasonPack      bool `json:"isSeasonPack"`
	SeasonPackSeason  int  `json:"seasonPackSeason,omitempty"`
	SeasonPackEpisode int  `json:"seasonPackEpisode,omitempty"`

	// DownloadLink, when present, allows a CDN-first download without
	// touching the provider's authenticated endpoint.
	DownloadLink string `json:"downloadLink,omitempty"`
}

// EncodeID builds the opaque descriptor id: provider, provider-local id and
// an optional season-pack hint, joined so DecodeID can split without
// further context.
func EncodeID(provider, localID string, packSeason, packEpisode int) string {
	if packSeason > 0 && packEpisode > 0 {
		return fmt.Sprintf("%s;%s;pack:%d:%d", provider, localID, packSeason, packEpisode)
	}
	return fmt.Sprintf("%s;%s", provider, localID)
}

// DecodeID splits an opaque descriptor id.
func DecodeID(id string) (provider, localID string, packSeason, packEpisode int, err error) {
	parts := strings.Split(id, ";")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, 0, fmt.Errorf("malformed subtitle id %q", id)
	}
	provider, localID = parts[0], parts[1]
	if len(parts) >= 3 && strings.HasPrefix(parts[2], "pack:") {
		if _, serr := fmt.Sscanf(parts[2], "pack:%d:%d", &packSeason, &packEpisode); serr != nil {
			return "", "", 0, 0, fmt.Errorf("malformed pack hint in id %q", id)
		}
	}
	return provider, localID, packSeason, packEpisode, nil
}

// BayesianRating smooths a good/bad vote count toward a prior of 5 votes at
// 70% positive so a single 10/10 vote does not outrank a 9.2 across
// hundreds of votes. Returned on a 0-10 scale.
func BayesianRating(good, bad int) float64 {
	const (
		priorVotes    = 5.0
		priorPositive = 0.7
	)
	total := float64(good + bad)
	positive := (float64(good) + priorVotes*priorPositive) / (total + priorVotes)
	return positive * 10
}

// CleanName strips common prefixes and subtitle extensions from a release
// name reported by a provider.
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	for _, ext := range []string{".srt", ".vtt", ".ass", ".ssa", ".sub", ".zip", ".rar"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
		}
	}
	name = strings.TrimPrefix(name, "www.")
	return strings.TrimSpace(name)
}
