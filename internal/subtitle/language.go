// SPDX-License-Identifier: MIT

package subtitle

import "strings"

// languageAliases maps provider-reported language identifiers to canonical
// ISO 639-2/B three-letter codes. Brazilian Portuguese is kept distinct from
// European Portuguese as "pob", matching the OpenSubtitles convention.
var languageAliases = map[string]string{
	"en": "eng", "eng": "eng", "english": "eng",
	"es": "spa", "spa": "spa", "spanish": "spa", "es-es": "spa",
	"ea": "spl", "es-419": "spl", "spl": "spl", "latin american spanish": "spl",
	"pt": "por", "por": "por", "portuguese": "por", "pt-pt": "por",
	"pb": "pob", "pob": "pob", "pt-br": "pob", "ptbr": "pob",
	"brazilian portuguese": "pob", "portuguese (brazilian)": "pob",
	"fr": "fre", "fre": "fre", "fra": "fre", "french": "fre",
	"de": "ger", "ger": "ger", "deu": "ger", "german": "ger",
	"it": "ita", "ita": "ita", "italian": "ita",
	"nl": "dut", "dut": "dut", "nld": "dut", "dutch": "dut",
	"pl": "pol", "pol": "pol", "polish": "pol",
	"ru": "rus", "rus": "rus", "russian": "rus",
	"uk": "ukr", "ukr": "ukr", "ukrainian": "ukr",
	"tr": "tur", "tur": "tur", "turkish": "tur",
	"ar": "ara", "ara": "ara", "arabic": "ara",
	"he": "heb", "heb": "heb", "hebrew": "heb",
	"el": "ell", "ell": "ell", "gre": "ell", "greek": "ell",
	"cs": "cze", "cze": "cze", "ces": "cze", "czech": "cze",
	"sk": "slo", "slo": "slo", "slk": "slo", "slovak": "slo",
	"hu": "hun", "hun": "hun", "hungarian": "hun",
	"ro": "rum", "rum": "rum", "ron": "rum", "romanian": "rum",
	"bg": "bul", "bul": "bul", "bulgarian": "bul",
	"sr": "scc", "scc": "scc", "srp": "scc", "serbian": "scc",
	"hr": "hrv", "hrv": "hrv", "croatian": "hrv",
	"sv": "swe", "swe": "swe", "swedish": "swe",
	"no": "nor", "nor": "nor", "norwegian": "nor",
	"da": "dan", "dan": "dan", "danish": "dan",
	"fi": "fin", "fin": "fin", "finnish": "fin",
	"ja": "jpn", "jpn": "jpn", "japanese": "jpn",
	"ko": "kor", "kor": "kor", "korean": "kor",
	"zh": "chi", "chi": "chi", "zho": "chi", "chinese": "chi",
	"zh-tw": "zht", "zht": "zht", "traditional chinese": "zht",
	"th": "tha", "tha": "tha", "thai": "tha",
	"vi": "vie", "vie": "vie", "vietnamese": "vie",
	"id": "ind", "ind": "ind", "indonesian": "ind",
	"ms": "may", "may": "may", "msa": "may", "malay": "may",
	"hi": "hin", "hin": "hin", "hindi": "hin",
	"fa": "per", "per": "per", "fas": "per", "persian": "per", "farsi": "per",
}

// CanonicalLanguage normalizes a raw provider language tag to the canonical
// three-letter code. Unknown tags that already look like a three-letter code
// pass through lowercased; anything else returns "".
func CanonicalLanguage(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	if tag == "" {
		return ""
	}
	if canonical, ok := languageAliases[tag]; ok {
		return canonical
	}
	// Try the primary subtag of BCP-47 style values ("en-US").
	if idx := strings.IndexAny(tag, "-_"); idx > 0 {
		if canonical, ok := languageAliases[tag[:idx]]; ok {
			return canonical
		}
	}
	if len(tag) == 3 && isAlpha(tag) {
		return tag
	}
	return ""
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// twoLetter maps canonical codes back to ISO 639-1 for upstreams that only
// accept two-letter tags. Codes with no two-letter form return "".
var twoLetter = map[string]string{
	"eng": "en", "spa": "es", "por": "pt", "fre": "fr", "ger": "de",
	"ita": "it", "dut": "nl", "pol": "pl", "rus": "ru", "ukr": "uk",
	"tur": "tr", "ara": "ar", "heb": "he", "ell": "el", "cze": "cs",
	"slo": "sk", "hun": "hu", "rum": "ro", "bul": "bg", "scc": "sr",
	"hrv": "hr", "swe": "sv", "nor": "no", "dan": "da", "fin": "fi",
	"jpn": "ja", "kor": "ko", "chi": "zh", "tha": "th", "vie": "vi",
	"ind": "id", "may": "ms", "hin": "hi", "per": "fa",
}

// TwoLetter returns the ISO 639-1 code for a canonical language code, or ""
// when none exists.
func TwoLetter(code string) string {
	return twoLetter[code]
}

// NormalizeLanguages canonicalizes a request language list, dropping
// unknowns and duplicates while preserving order.
func NormalizeLanguages(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		code := CanonicalLanguage(r)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
