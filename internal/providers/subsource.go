// SPDX-License-Identifier: MIT

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/submaker/submaker/internal/subtitle"
)

const subsourceBaseURL = "https://api.subsource.net/v1"

func init() {
	register("subsource", func(deps Deps) Provider {
		return &subsource{client: deps.Client, baseURL: subsourceBaseURL}
	})
}

// subsource has no API key; it fronts its site API, which is why requests
// carry the browser-like header template.
type subsource struct {
	client  *http.Client
	baseURL string
}

func (p *subsource) Name() string { return "subsource" }

func (p *subsource) Search(ctx context.Context, req SearchRequest) ([]subtitle.Descriptor, error) {
	params := url.Values{}
	if req.IMDBID != "" {
		params.Set("imdb_id", "tt"+strings.TrimPrefix(req.IMDBID, "tt"))
	} else if req.Title != "" {
		params.Set("query", req.Title)
	}
	if req.Type == MediaEpisode && req.Season > 0 {
		params.Set("season", strconv.Itoa(req.Season))
		if req.Episode > 0 {
			params.Set("episode", strconv.Itoa(req.Episode))
		}
	}
	if len(req.Languages) > 0 {
		params.Set("languages", strings.Join(req.Languages, ","))
	}

	var payload subsourceSearchResponse
	endpoint := p.baseURL + "/subtitles/search?" + params.Encode()
	if err := doJSON(ctx, p.client, p.Name(), "search", http.MethodGet, endpoint, nil, nil, &payload); err != nil {
		return nil, err
	}

	out := make([]subtitle.Descriptor, 0, len(payload.Subtitles))
	for _, s := range payload.Subtitles {
		hi := s.HearingImpaired > 0
		if req.ExcludeHI && hi {
			continue
		}
		lang := subtitle.CanonicalLanguage(s.Language)
		if lang == "" {
			continue
		}
		isPack := subtitle.LooksLikeSeasonPack(s.ReleaseName, req.Season)
		packSeason, packEpisode := 0, 0
		if isPack && req.Season > 0 && req.Episode > 0 {
			packSeason, packEpisode = req.Season, req.Episode
		}
		out = append(out, subtitle.Descriptor{
			ID:                subtitle.EncodeID(p.Name(), strconv.FormatInt(s.ID, 10), packSeason, packEpisode),
			Provider:          p.Name(),
			Language:          s.Language,
			LanguageCode:      lang,
			Name:              subtitle.CleanName(s.ReleaseName),
			Format:            subtitle.FormatSRT,
			Downloads:         s.Downloads,
			Rating:            subtitle.BayesianRating(s.GoodVotes, s.BadVotes),
			HearingImpaired:   hi,
			IsSeasonPack:      isPack,
			SeasonPackSeason:  packSeason,
			SeasonPackEpisode: packEpisode,
		})
	}
	return capPerLanguage(out), nil
}

// ResolveDownload fetches the subtitle details to obtain the short-lived
// download token the CDN requires.
func (p *subsource) ResolveDownload(ctx context.Context, localID string) (string, error) {
	if _, err := strconv.ParseInt(localID, 10, 64); err != nil {
		return "", &OpError{Provider: p.Name(), Op: "download", Code: CodeClientError,
			Err: fmt.Errorf("unexpected subtitle id %q", localID)}
	}

	var payload subsourceDetailsResponse
	endpoint := p.baseURL + "/subtitles/" + localID
	if err := doJSON(ctx, p.client, p.Name(), "download", http.MethodGet, endpoint, nil, nil, &payload); err != nil {
		return "", err
	}
	if payload.Subtitle.DownloadToken == "" {
		return "", &OpError{Provider: p.Name(), Op: "download", Code: CodeServerError}
	}
	return p.baseURL + "/subtitles/download/" + payload.Subtitle.DownloadToken, nil
}

type subsourceSearchResponse struct {
	Subtitles []struct {
		ID              int64  `json:"id"`
		Language        string `json:"language"`
		ReleaseName     string `json:"release_name"`
		Downloads       int    `json:"downloads"`
		GoodVotes       int    `json:"good_votes"`
		BadVotes        int    `json:"bad_votes"`
		HearingImpaired int    `json:"hearing_impaired"`
	} `json:"subtitles"`
}

type subsourceDetailsResponse struct {
	Subtitle struct {
		ID            int64  `json:"id"`
		DownloadToken string `json:"download_token"`
	} `json:"subtitle"`
}
