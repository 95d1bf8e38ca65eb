// SPDX-License-Identifier: MIT

package subtitle

import (
	"regexp"
	"strconv"
)

// The episode-matching family. Season-wide provider results and archive
// entries are matched against these; delimiter classes deliberately exclude
// trailing letters so resolution tokens (720p, 1080p) and codec numbers
// (x264) never match.
var (
	reSxE        = regexp.MustCompile(`(?i)\bs(\d{1,2})[ ._-]?e(\d{1,3})\b`)
	reCross      = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{1,3})\b`)
	reSeasonWord = regexp.MustCompile(`(?i)\bseason[ ._-]*(\d{1,2})[ ._-]*episode[ ._-]*(\d{1,3})\b`)

	reEpisodeWord = regexp.MustCompile(`(?i)\bepisode[ ._-]?(\d{1,3})\b`)
	reEP          = regexp.MustCompile(`(?i)\bep?[ ._]?(\d{1,3})\b`)
	reCapitulo    = regexp.MustCompile(`(?i)\bcap[ií]tulo[ ._-]?(\d{1,3})\b`)
	reEpisodio    = regexp.MustCompile(`(?i)\bepis[oó]dio[ ._-]?(\d{1,3})\b`)
	reCJK         = regexp.MustCompile(`第?(\d{1,3})[話话集화]`)

	// Bare two-digit numbers bounded by delimiters ("[SubsPlease] Show - 01").
	reBare = regexp.MustCompile(`(?:^|[ ._\-\[\(])(\d{2})(?:[ ._\-\]\)]|$)`)

	// Episode ranges mark multi-episode files ("01-12").
	reRange = regexp.MustCompile(`\b(\d{1,3})\s*[-~]\s*(\d{1,3})\b`)

	reSeasonOnly = regexp.MustCompile(`(?i)\bs(?:eason[ ._-]*)?(\d{1,2})\b`)
	reComplete   = regexp.MustCompile(`(?i)\b(complete|full[ ._-]?season|season[ ._-]?pack|batch)\b`)
	reYear       = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// Match scores for the different pattern families. Explicit season+episode
// forms outrank bare numbers, which outrank the anime word forms.
const (
	scoreSxE         = 100
	scoreSeasonWord  = 95
	scoreCross       = 90
	scoreBare        = 60
	scoreEpisodeWord = 50
	scoreEP          = 45
	scoreCJK         = 40
	scoreRange       = 30
)

// MatchEpisode reports whether name refers to the given (season, episode)
// and how specific the match is. A zero score means no match.
func MatchEpisode(name string, season, episode int) (int, bool) {
	if episode <= 0 {
		return 0, false
	}

	for _, m := range reSxE.FindAllStringSubmatch(name, -1) {
		if atoi(m[1]) == season && atoi(m[2]) == episode {
			return scoreSxE, true
		}
	}
	for _, m := range reSeasonWord.FindAllStringSubmatch(name, -1) {
		if atoi(m[1]) == season && atoi(m[2]) == episode {
			return scoreSeasonWord, true
		}
	}
	for _, m := range reCross.FindAllStringSubmatch(name, -1) {
		if atoi(m[1]) == season && atoi(m[2]) == episode {
			return scoreCross, true
		}
	}

	// A name that names a different season explicitly can never match via
	// the episode-only forms.
	if season > 0 && conflictingSeason(name, season) {
		return 0, false
	}

	stripped := reYear.ReplaceAllString(name, "")

	for _, m := range reBare.FindAllStringSubmatch(stripped, -1) {
		if atoi(m[1]) == episode {
			return scoreBare, true
		}
	}
	for _, m := range reEpisodeWord.FindAllStringSubmatch(stripped, -1) {
		if atoi(m[1]) == episode {
			return scoreEpisodeWord, true
		}
	}
	for _, m := range reCapitulo.FindAllStringSubmatch(stripped, -1) {
		if atoi(m[1]) == episode {
			return scoreEpisodeWord, true
		}
	}
	for _, m := range reEpisodio.FindAllStringSubmatch(stripped, -1) {
		if atoi(m[1]) == episode {
			return scoreEpisodeWord, true
		}
	}
	for _, m := range reEP.FindAllStringSubmatch(stripped, -1) {
		if atoi(m[1]) == episode {
			return scoreEP, true
		}
	}
	for _, m := range reCJK.FindAllStringSubmatch(stripped, -1) {
		if atoi(m[1]) == episode {
			return scoreCJK, true
		}
	}
	for _, m := range reRange.FindAllStringSubmatch(stripped, -1) {
		lo, hi := atoi(m[1]), atoi(m[2])
		if lo < hi && lo <= episode && episode <= hi {
			return scoreRange, true
		}
	}
	return 0, false
}

// conflictingSeason reports whether name explicitly mentions a season other
// than the requested one.
func conflictingSeason(name string, season int) bool {
	mentioned := false
	for _, m := range reSeasonOnly.FindAllStringSubmatch(name, -1) {
		mentioned = true
		if atoi(m[1]) == season {
			return false
		}
	}
	return mentioned
}

// LooksLikeSeasonPack reports whether name refers to a whole season rather
// than a single episode: a completeness marker, an episode range, or a
// season marker without any episode marker.
func LooksLikeSeasonPack(name string, season int) bool {
	if reComplete.MatchString(name) {
		return true
	}
	stripped := reYear.ReplaceAllString(name, "")
	if reRange.MatchString(stripped) {
		return true
	}
	hasSeason := false
	for _, m := range reSeasonOnly.FindAllStringSubmatch(name, -1) {
		if season <= 0 || atoi(m[1]) == season {
			hasSeason = true
		}
	}
	if !hasSeason {
		return false
	}
	return !reSxE.MatchString(name) && !reCross.MatchString(name) && !reEpisodeWord.MatchString(name)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
