// SPDX-License-Identifier: MIT

package rank

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submaker/submaker/internal/subtitle"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Show.S01E01.1080p.WEB-DL.srt":    "show s01e01 1080p web-dl",
		"[SubsTeam] Show_S01E01 (retail)": "show s01e01",
		"  Multiple   spaces\there ":      "multiple spaces here",
		"Movie.2020.x264-GRP.zip":         "movie 2020 x264-grp",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func desc(id, lang, name string, downloads int) subtitle.Descriptor {
	return subtitle.Descriptor{
		ID:           id,
		Provider:     "test",
		LanguageCode: lang,
		Name:         name,
		Format:       subtitle.FormatSRT,
		Downloads:    downloads,
		Rating:       subtitle.BayesianRating(0, 0),
	}
}

func TestRankPrefersFilenameMatch(t *testing.T) {
	ctx := Context{Filename: "Show.S01E01.1080p.WEB-DL.H264-GRP.mkv"}
	in := []subtitle.Descriptor{
		desc("a", "eng", "Show.S01E01.720p.HDTV", 100),
		desc("b", "eng", "Show.S01E01.1080p.WEB-DL.H264", 100),
	}
	out := Rank(in, ctx)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
}

func TestRankDedupKeepsStrongerCopy(t *testing.T) {
	a := desc("prov1;1", "eng", "Show.S01E01.WEB-DL", 10)
	b := desc("prov2;2", "eng", "Show S01E01 WEB-DL", 5000) // same normalized name
	out := Rank([]subtitle.Descriptor{a, b}, Context{})
	require.Len(t, out, 1)
	assert.Equal(t, "prov2;2", out[0].ID)
}

func TestRankDedupKeySensitivity(t *testing.T) {
	base := desc("1", "eng", "Show.S01E01", 10)

	hi := base
	hi.ID = "2"
	hi.HearingImpaired = true

	otherLang := base
	otherLang.ID = "3"
	otherLang.LanguageCode = "spa"

	pack := base
	pack.ID = "4"
	pack.IsSeasonPack = true

	out := Rank([]subtitle.Descriptor{base, hi, otherLang, pack}, Context{})
	assert.Len(t, out, 4)
}

func TestRankPenalties(t *testing.T) {
	human := desc("a", "eng", "Show.S01E01", 100)
	mt := desc("b", "eng", "Show.S01E01.AI", 100)
	mt.MachineTranslated = true

	out := Rank([]subtitle.Descriptor{mt, human}, Context{})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
}

func TestRankRatingBeatsSingleVoteWonder(t *testing.T) {
	steady := desc("steady", "eng", "Show.S01E01", 50)
	steady.Rating = subtitle.BayesianRating(90, 10)

	wonder := desc("wonder", "eng", "Show.S01E01.b", 50)
	wonder.Rating = subtitle.BayesianRating(1, 0)

	out := Rank([]subtitle.Descriptor{wonder, steady}, Context{})
	assert.Equal(t, "steady", out[0].ID)
}

func TestRankCapsPerLanguage(t *testing.T) {
	var in []subtitle.Descriptor
	for i := 0; i < MaxPerLanguage+6; i++ {
		in = append(in, desc(fmt.Sprintf("e%02d", i), "eng", fmt.Sprintf("Show.S01E01.v%02d", i), i))
	}
	for i := 0; i < 3; i++ {
		in = append(in, desc(fmt.Sprintf("s%02d", i), "spa", fmt.Sprintf("Show.S01E01.es%02d", i), i))
	}

	out := Rank(in, Context{})
	perLang := map[string]int{}
	for _, d := range out {
		perLang[d.LanguageCode]++
	}
	assert.Equal(t, MaxPerLanguage, perLang["eng"])
	assert.Equal(t, 3, perLang["spa"])
}

func TestRankIdempotent(t *testing.T) {
	ctx := Context{Filename: "Show.S01E01.1080p.WEB-DL.mkv"}
	in := []subtitle.Descriptor{
		desc("a", "eng", "Show.S01E01.WEB-DL", 100),
		desc("b", "eng", "Show.S01E01.HDTV", 400),
		desc("c", "spa", "Show.S01E01.WEB-DL", 70),
		desc("d", "eng", "Show S01E01 WEB-DL", 100), // dup of a
	}
	once := Rank(in, ctx)
	twice := Rank(once, ctx)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("ranking is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestRankProviderWeight(t *testing.T) {
	a := desc("a;1", "eng", "Show.One", 100)
	a.Provider = "alpha"
	b := desc("b;1", "eng", "Show.Two", 100)
	b.Provider = "beta"

	out := Rank([]subtitle.Descriptor{a, b}, Context{ProviderWeights: map[string]float64{"beta": 2}})
	assert.Equal(t, "b;1", out[0].ID)
}
