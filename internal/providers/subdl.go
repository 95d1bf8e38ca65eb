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

const (
	subdlBaseURL = "https://api.subdl.com/api/v1"
	subdlCDNBase = "https://dl.subdl.com"
)

func init() {
	register("subdl", func(deps Deps) Provider {
		return &subdl{client: deps.Client, apiKey: deps.APIKey, baseURL: subdlBaseURL, cdnBase: subdlCDNBase}
	})
}

// subdl serves ZIP archives off a CDN; the API only returns metadata plus
// archive paths, so every download goes through the extractor.
type subdl struct {
	client  *http.Client
	apiKey  string
	baseURL string
	cdnBase string
}

func (p *subdl) Name() string { return "subdl" }

func (p *subdl) Search(ctx context.Context, req SearchRequest) ([]subtitle.Descriptor, error) {
	params := url.Values{}
	params.Set("api_key", p.apiKey)
	params.Set("subs_per_page", "30")
	if req.IMDBID != "" {
		params.Set("imdb_id", "tt"+strings.TrimPrefix(req.IMDBID, "tt"))
	} else if req.TMDBID != "" {
		params.Set("tmdb_id", req.TMDBID)
	} else if req.Title != "" {
		params.Set("film_name", req.Title)
	}
	if len(req.Languages) > 0 {
		params.Set("languages", strings.Join(subdlLanguages(req.Languages), ","))
	}
	if req.Type == MediaEpisode {
		params.Set("type", "tv")
		if req.Season > 0 {
			params.Set("season_number", strconv.Itoa(req.Season))
		}
		if req.Episode > 0 {
			params.Set("episode_number", strconv.Itoa(req.Episode))
		}
	} else {
		params.Set("type", "movie")
	}

	var payload subdlResponse
	endpoint := p.baseURL + "/subtitles?" + params.Encode()
	if err := doJSON(ctx, p.client, p.Name(), "search", http.MethodGet, endpoint, nil, nil, &payload); err != nil {
		return nil, err
	}
	if !payload.Status {
		if strings.Contains(strings.ToLower(payload.Error), "api key") {
			return nil, &OpError{Provider: p.Name(), Op: "search", Code: CodeAuthentication}
		}
		// "no results" style answers are not an error.
		return nil, nil
	}

	out := make([]subtitle.Descriptor, 0, len(payload.Subtitles))
	for _, s := range payload.Subtitles {
		if req.ExcludeHI && s.HearingImpaired {
			continue
		}
		lang := subtitle.CanonicalLanguage(s.Language)
		if lang == "" {
			continue
		}
		isPack := s.FullSeason || subtitle.LooksLikeSeasonPack(s.ReleaseName, req.Season)
		packSeason, packEpisode := 0, 0
		if isPack && req.Season > 0 && req.Episode > 0 {
			packSeason, packEpisode = req.Season, req.Episode
		}
		out = append(out, subtitle.Descriptor{
			ID:                subtitle.EncodeID(p.Name(), s.URL, packSeason, packEpisode),
			Provider:          p.Name(),
			Language:          s.Language,
			LanguageCode:      lang,
			Name:              subtitle.CleanName(s.ReleaseName),
			Format:            subtitle.FormatSRT,
			HearingImpaired:   s.HearingImpaired,
			Rating:            subtitle.BayesianRating(0, 0),
			IsSeasonPack:      isPack,
			SeasonPackSeason:  packSeason,
			SeasonPackEpisode: packEpisode,
			DownloadLink:      p.cdnBase + s.URL,
		})
	}
	return capPerLanguage(out), nil
}

// ResolveDownload is trivial here: the search response already carries the
// CDN path, which doubles as the provider-local id.
func (p *subdl) ResolveDownload(_ context.Context, localID string) (string, error) {
	if !strings.HasPrefix(localID, "/") {
		return "", &OpError{Provider: p.Name(), Op: "download", Code: CodeClientError,
			Err: fmt.Errorf("unexpected subtitle path %q", localID)}
	}
	return p.cdnBase + localID, nil
}

// subdlLanguages maps canonical codes to SubDL's upper-case tags.
func subdlLanguages(langs []string) []string {
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		switch l {
		case "pob":
			out = append(out, "BR_PT")
		case "zht":
			out = append(out, "ZH_BG")
		case "spl":
			out = append(out, "ES_LA")
		default:
			if two := subtitle.TwoLetter(l); two != "" {
				out = append(out, strings.ToUpper(two))
			}
		}
	}
	return out
}

type subdlResponse struct {
	Status    bool   `json:"status"`
	Error     string `json:"error"`
	Subtitles []struct {
		ReleaseName     string `json:"release_name"`
		Name            string `json:"name"`
		Language        string `json:"lang"`
		URL             string `json:"url"`
		Author          string `json:"author"`
		Season          int    `json:"season"`
		Episode         int    `json:"episode"`
		FullSeason      bool   `json:"full_season"`
		HearingImpaired bool   `json:"hi"`
	} `json:"subtitles"`
}
