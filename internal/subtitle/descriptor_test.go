// SPDX-License-Identifier: MIT

package subtitle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeID(t *testing.T) {
	id := EncodeID("opensubtitles", "12345", 0, 0)
	provider, local, ps, pe, err := DecodeID(id)
	require.NoError(t, err)
	assert.Equal(t, "opensubtitles", provider)
	assert.Equal(t, "12345", local)
	assert.Zero(t, ps)
	assert.Zero(t, pe)

	packed := EncodeID("subdl", "abc", 2, 5)
	provider, local, ps, pe, err = DecodeID(packed)
	require.NoError(t, err)
	assert.Equal(t, "subdl", provider)
	assert.Equal(t, "abc", local)
	assert.Equal(t, 2, ps)
	assert.Equal(t, 5, pe)

	_, _, _, _, err = DecodeID("garbage")
	assert.Error(t, err)
}

func TestBayesianRating(t *testing.T) {
	// The prior pulls sparse votes toward 7.0.
	assert.InDelta(t, 7.0, BayesianRating(0, 0), 0.001)

	// One perfect vote barely moves the needle.
	one := BayesianRating(1, 0)
	assert.Less(t, one, 8.0)
	assert.Greater(t, one, 7.0)

	// Many votes dominate the prior.
	many := BayesianRating(500, 0)
	assert.Greater(t, many, 9.8)

	bad := BayesianRating(0, 500)
	assert.Less(t, bad, 0.2)

	// A single 10/10 must not outrank a strong record.
	assert.Greater(t, BayesianRating(90, 10), BayesianRating(1, 0))
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "Show.S01E01.WEB-DL", CleanName("Show.S01E01.WEB-DL.srt"))
	assert.Equal(t, "example.com - Show", CleanName("www.example.com - Show"))
	assert.Equal(t, "Show", CleanName("  Show.zip "))
}

func TestCanonicalLanguage(t *testing.T) {
	cases := map[string]string{
		"en":                   "eng",
		"English":              "eng",
		"pt-BR":                "pob",
		"pb":                   "pob",
		"Brazilian Portuguese": "pob",
		"pt":                   "por",
		"pt-PT":                "por",
		"es":                   "spa",
		"zh-TW":                "zht",
		"xyz":                  "xyz", // unknown 3-letter passes through
		"??":                   "",
		"":                     "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, CanonicalLanguage(raw), raw)
	}
}

func TestNormalizeLanguages(t *testing.T) {
	got := NormalizeLanguages([]string{"en", "eng", "pt-br", "bogus!", "POB"})
	assert.Equal(t, []string{"eng", "pob"}, got)
}
