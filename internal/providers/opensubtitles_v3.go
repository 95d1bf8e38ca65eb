// SPDX-License-Identifier: MIT

package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/submaker/submaker/internal/subtitle"
)

const osV3BaseURL = "https://api.opensubtitles.com/api/v1"

func init() {
	register("opensubtitles-v3", func(deps Deps) Provider {
		return &openSubtitlesV3{client: deps.Client, apiKey: deps.APIKey, baseURL: osV3BaseURL}
	})
}

// openSubtitlesV3 talks to the OpenSubtitles REST API with an API key only.
// The authenticated variant with user login lives in opensubtitles.go.
type openSubtitlesV3 struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func (p *openSubtitlesV3) Name() string { return "opensubtitles-v3" }

func (p *openSubtitlesV3) headers() map[string]string {
	return map[string]string{"Api-Key": p.apiKey}
}

func (p *openSubtitlesV3) Search(ctx context.Context, req SearchRequest) ([]subtitle.Descriptor, error) {
	return p.searchWith(ctx, req, p.headers())
}

func (p *openSubtitlesV3) ResolveDownload(ctx context.Context, localID string) (string, error) {
	return p.resolveWith(ctx, localID, p.headers())
}

func (p *openSubtitlesV3) searchWith(ctx context.Context, req SearchRequest, headers map[string]string) ([]subtitle.Descriptor, error) {
	params := url.Values{}
	if req.IMDBID != "" {
		params.Set("imdb_id", strings.TrimPrefix(req.IMDBID, "tt"))
	}
	if req.TMDBID != "" {
		params.Set("tmdb_id", req.TMDBID)
	}
	if req.IMDBID == "" && req.TMDBID == "" && req.Title != "" {
		params.Set("query", req.Title)
	}
	if len(req.Languages) > 0 {
		params.Set("languages", strings.Join(osLanguages(req.Languages), ","))
	}
	if req.Type == MediaEpisode {
		params.Set("type", "episode")
		if req.Season > 0 {
			params.Set("season_number", strconv.Itoa(req.Season))
		}
		if req.Episode > 0 {
			params.Set("episode_number", strconv.Itoa(req.Episode))
		}
	} else {
		params.Set("type", "movie")
		if req.Year > 0 {
			params.Set("year", strconv.Itoa(req.Year))
		}
	}
	params.Set("order_by", "download_count")
	params.Set("order_direction", "desc")

	var payload osSearchResponse
	endpoint := p.baseURL + "/subtitles?" + params.Encode()
	if err := doJSON(ctx, p.client, p.Name(), "search", http.MethodGet, endpoint, headers, nil, &payload); err != nil {
		return nil, err
	}

	out := make([]subtitle.Descriptor, 0, len(payload.Data))
	for _, item := range payload.Data {
		a := item.Attributes
		if req.ExcludeHI && a.HearingImpaired {
			continue
		}
		fileID := a.primaryFileID()
		if fileID == 0 {
			continue
		}
		lang := subtitle.CanonicalLanguage(a.Language)
		if lang == "" {
			continue
		}
		name := subtitle.CleanName(a.Release)
		if name == "" {
			name = subtitle.CleanName(a.primaryFileName())
		}
		out = append(out, subtitle.Descriptor{
			ID:                subtitle.EncodeID(p.Name(), strconv.FormatInt(fileID, 10), 0, 0),
			Provider:          p.Name(),
			Language:          a.Language,
			LanguageCode:      lang,
			Name:              name,
			Format:            subtitle.FormatSRT,
			Downloads:         a.DownloadCount,
			Rating:            osBayesian(a.Ratings, a.Votes),
			HearingImpaired:   a.HearingImpaired,
			ForeignPartsOnly:  a.ForeignPartsOnly,
			MachineTranslated: a.AITranslated || a.MachineTranslated,
			IsSeasonPack:      subtitle.LooksLikeSeasonPack(a.Release, req.Season),
		})
	}
	return capPerLanguage(out), nil
}

func (p *openSubtitlesV3) resolveWith(ctx context.Context, localID string, headers map[string]string) (string, error) {
	fileID, err := strconv.ParseInt(localID, 10, 64)
	if err != nil {
		return "", &OpError{Provider: p.Name(), Op: "download", Code: CodeClientError, Err: err}
	}
	var resp osDownloadResponse
	body := map[string]any{"file_id": fileID, "sub_format": "srt"}
	if err := doJSON(ctx, p.client, p.Name(), "download", http.MethodPost, p.baseURL+"/download", headers, body, &resp); err != nil {
		return "", err
	}
	if resp.Link == "" {
		return "", &OpError{Provider: p.Name(), Op: "download", Code: CodeServerError}
	}
	return resp.Link, nil
}

// osLanguages maps canonical codes to the two-letter forms the API expects,
// keeping its special Brazilian and traditional Chinese codes intact.
func osLanguages(langs []string) []string {
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		switch l {
		case "pob":
			out = append(out, "pt-br")
		case "por":
			out = append(out, "pt-pt")
		case "zht":
			out = append(out, "zh-tw")
		case "zho":
			out = append(out, "zh-cn")
		case "spl":
			out = append(out, "ea")
		default:
			if two := subtitle.TwoLetter(l); two != "" {
				out = append(out, two)
			}
		}
	}
	return out
}

// osBayesian converts the API's 0-10 average plus vote count into the
// smoothed rating used for ranking.
func osBayesian(avg float64, votes int) float64 {
	if votes <= 0 {
		return subtitle.BayesianRating(0, 0)
	}
	good := int(avg / 10 * float64(votes))
	return subtitle.BayesianRating(good, votes-good)
}

type osSearchResponse struct {
	Data []struct {
		ID         string       `json:"id"`
		Attributes osAttributes `json:"attributes"`
	} `json:"data"`
	Meta struct {
		Total int `json:"total_count"`
	} `json:"meta"`
}

type osAttributes struct {
	Language          string   `json:"language"`
	Release           string   `json:"release"`
	DownloadCount     int      `json:"download_count"`
	Ratings           float64  `json:"ratings"`
	Votes             int      `json:"votes"`
	HearingImpaired   bool     `json:"hearing_impaired"`
	ForeignPartsOnly  bool     `json:"foreign_parts_only"`
	AITranslated      bool     `json:"ai_translated"`
	MachineTranslated bool     `json:"machine_translated"`
	Files             []osFile `json:"files"`
}

type osFile struct {
	FileID   int64  `json:"file_id"`
	FileName string `json:"file_name"`
}

func (a osAttributes) primaryFileID() int64 {
	if len(a.Files) == 0 {
		return 0
	}
	return a.Files[0].FileID
}

func (a osAttributes) primaryFileName() string {
	if len(a.Files) == 0 {
		return ""
	}
	return a.Files[0].FileName
}

type osDownloadResponse struct {
	Link      string `json:"link"`
	FileName  string `json:"file_name"`
	Remaining int    `json:"remaining"`
}
