// SPDX-License-Identifier: MIT

// Package rank orders and deduplicates merged provider results.
package rank

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/submaker/submaker/internal/subtitle"
)

// MaxPerLanguage caps how many candidates survive per language after
// dedup, keeping the player list scrollable.
const MaxPerLanguage = 14

var (
	reBracketTag = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)
	reSeparators = regexp.MustCompile(`[._]+`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a release name for dedup and similarity:
// lowercase, subtitle extensions and bracketed tags stripped, dot and
// underscore separators collapsed to single spaces.
func Normalize(name string) string {
	s := strings.ToLower(subtitle.CleanName(name))
	s = reBracketTag.ReplaceAllString(s, " ")
	s = reSeparators.ReplaceAllString(s, " ")
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// releaseTokens are the source/codec markers that indicate a subtitle was
// timed against a specific release.
var releaseTokens = []string{
	"web-dl", "webdl", "webrip", "bluray", "blu-ray", "brrip", "bdrip",
	"hdtv", "dvdrip", "remux", "x264", "x265", "h264", "h265", "hevc",
	"2160p", "1080p", "720p", "480p", "amzn", "nf", "dsnp", "atvp", "hulu",
	"proper", "repack", "extended",
}

// Context carries the request-side signals scoring uses.
type Context struct {
	// Filename of the video being played.
	Filename string

	// ProviderWeights biases sources; missing providers weigh zero.
	ProviderWeights map[string]float64
}

type dedupKey struct {
	lang   string
	name   string
	hi     bool
	format subtitle.Format
	pack   bool
}

// Rank deduplicates, scores and orders candidates, then caps each language.
// The operation is idempotent: ranking an already ranked list returns the
// same list.
func Rank(in []subtitle.Descriptor, ctx Context) []subtitle.Descriptor {
	if len(in) == 0 {
		return nil
	}

	type scored struct {
		desc  subtitle.Descriptor
		score float64
	}

	swg := metrics.NewSmithWatermanGotoh()
	wanted := Normalize(ctx.Filename)

	best := make(map[dedupKey]scored, len(in))
	order := make([]dedupKey, 0, len(in))
	for _, d := range in {
		key := dedupKey{
			lang:   d.LanguageCode,
			name:   Normalize(d.Name),
			hi:     d.HearingImpaired,
			format: d.Format,
			pack:   d.IsSeasonPack,
		}
		s := scored{desc: d, score: score(d, wanted, swg, ctx.ProviderWeights)}
		cur, seen := best[key]
		if !seen {
			best[key] = s
			order = append(order, key)
			continue
		}
		// Duplicates keep the stronger copy.
		if s.score > cur.score || (s.score == cur.score && s.desc.ID < cur.desc.ID) {
			best[key] = s
		}
	}

	ranked := make([]scored, 0, len(best))
	for _, key := range order {
		ranked = append(ranked, best[key])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].desc.ID < ranked[j].desc.ID
	})

	perLang := make(map[string]int, 4)
	out := make([]subtitle.Descriptor, 0, len(ranked))
	for _, s := range ranked {
		if perLang[s.desc.LanguageCode] >= MaxPerLanguage {
			continue
		}
		perLang[s.desc.LanguageCode]++
		out = append(out, s.desc)
	}
	return out
}

func score(d subtitle.Descriptor, wanted string, swg *metrics.SmithWatermanGotoh, weights map[string]float64) float64 {
	s := math.Log1p(math.Max(0, float64(d.Downloads)))

	name := Normalize(d.Name)
	if wanted != "" && name != "" {
		s += 4 * strutil.Similarity(wanted, name, swg)
		s += tokenOverlap(wanted, name)
	}

	// Rating is centered on the Bayesian prior so "no votes" is neutral.
	s += (d.Rating - subtitle.BayesianRating(0, 0)) * 0.6

	s += weights[d.Provider]

	if d.MachineTranslated {
		s -= 4.0
	}
	if d.HearingImpaired {
		s -= 0.5
	}
	if d.ForeignPartsOnly {
		s -= 1.0
	}
	if d.IsSeasonPack {
		// Pack downloads need extraction and may miss the episode.
		s -= 1.5
	}
	return s
}

// tokenOverlap rewards shared release markers, up to 2 points.
func tokenOverlap(wanted, name string) float64 {
	var overlap float64
	for _, tok := range releaseTokens {
		if strings.Contains(wanted, tok) && strings.Contains(name, tok) {
			overlap += 0.5
			if overlap >= 2 {
				break
			}
		}
	}
	return overlap
}
