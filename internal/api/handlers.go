// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/submaker/submaker/internal/config"
	"github.com/submaker/submaker/internal/providers"
	"github.com/submaker/submaker/internal/rank"
	"github.com/submaker/submaker/internal/subtitle"
	"github.com/submaker/submaker/internal/translate"
	"github.com/submaker/submaker/internal/version"
)

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// handleSearch fans the query out to every enabled provider.
//
//	GET /subtitles/{mediaType}/{id}
//	GET /subtitles/{mediaType}/{id}/{extra}.json
//
// id is "tt1234567" or "tt1234567:2:5" for series, or a bare TMDB number.
// extra carries URL-encoded key=value pairs (filename, languages).
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rctx := rank.Context{Filename: req.Filename}

	ctx, cancel := contextWithTimeout(r, s.settings.OrchestratorBudget())
	defer cancel()

	res, err := s.engine.Search(ctx, req, rctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseSearchRequest(r *http.Request) (providers.SearchRequest, error) {
	var req providers.SearchRequest

	anime := false
	switch chi.URLParam(r, "mediaType") {
	case "movie":
		req.Type = providers.MediaMovie
	case "series", "episode":
		req.Type = providers.MediaEpisode
	case "anime", "anime-episode":
		// Anime catalogs address episodes as id:episode with absolute
		// numbering; those map onto season 1.
		req.Type = providers.MediaEpisode
		anime = true
	default:
		return req, fmt.Errorf("%w: media type must be movie, series or anime", errBadRequest)
	}

	id := strings.TrimSuffix(chi.URLParam(r, "id"), ".json")
	parts := strings.Split(id, ":")
	switch {
	case strings.HasPrefix(parts[0], "tt"):
		req.IMDBID = parts[0]
	case parts[0] != "":
		req.TMDBID = parts[0]
	default:
		return req, fmt.Errorf("%w: missing media id", errBadRequest)
	}
	if req.Type == providers.MediaEpisode {
		var err error
		switch {
		case len(parts) == 3:
			if req.Season, err = strconv.Atoi(parts[1]); err != nil {
				return req, fmt.Errorf("%w: bad season", errBadRequest)
			}
			if req.Episode, err = strconv.Atoi(parts[2]); err != nil {
				return req, fmt.Errorf("%w: bad episode", errBadRequest)
			}
		case anime && len(parts) == 2:
			req.Season = 1
			if req.Episode, err = strconv.Atoi(parts[1]); err != nil {
				return req, fmt.Errorf("%w: bad episode", errBadRequest)
			}
		default:
			return req, fmt.Errorf("%w: series ids must be id:season:episode", errBadRequest)
		}
	}

	q := r.URL.Query()
	// Extra segment is an alternate carrier for the same parameters, the
	// way players append them inside the path.
	if extra := strings.TrimSuffix(chi.URLParam(r, "extra"), ".json"); extra != "" {
		for _, pair := range strings.Split(extra, "&") {
			if k, v, ok := strings.Cut(pair, "="); ok && q.Get(k) == "" {
				q.Set(k, v)
			}
		}
	}

	req.Filename = q.Get("filename")
	req.Title = q.Get("title")
	if y := q.Get("year"); y != "" {
		req.Year, _ = strconv.Atoi(y)
	}
	req.Languages = subtitle.NormalizeLanguages(strings.Split(q.Get("languages"), ","))
	if len(req.Languages) == 0 {
		req.Languages = []string{"eng"}
	}
	req.ExcludeHI = q.Get("exclude_hi") == "true"
	return req, nil
}

// handleDownload streams one subtitle as UTF-8 text.
//
//	GET /subtitle/download?id=<descriptor id>&filename=<video filename>
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, fmt.Errorf("%w: missing id", errBadRequest))
		return
	}

	res, err := s.downloader.Download(r.Context(), providers.DownloadRequest{
		ID:       id,
		Filename: r.URL.Query().Get("filename"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Name))
	_, _ = w.Write([]byte(res.Text))
}

type translateRequest struct {
	SourceFileID string            `json:"sourceFileId"`
	Language     string            `json:"targetLang"`
	Text         string            `json:"text"`
	ForceRefresh bool              `json:"forceRefresh,omitempty"`
	Config       config.UserConfig `json:"config"`
}

type translateResponse struct {
	BaseKey   string           `json:"baseKey"`
	CacheKey  string           `json:"cacheKey"`
	Status    translate.Status `json:"status"`
	Total     int              `json:"totalBatches"`
	Completed int              `json:"completedBatches"`
}

// handleTranslate starts (or joins) a translation build.
//
//	POST /translate
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.SourceFileID == "" || req.Language == "" {
		writeError(w, fmt.Errorf("%w: sourceFileId and language are required", errBadRequest))
		return
	}

	lang := subtitle.CanonicalLanguage(req.Language)
	configHash := ""
	if req.Config.BypassCache {
		configHash = req.Config.Hash()
	}

	entry, err := s.translator.Translate(r.Context(), translate.Request{
		SourceFileID: req.SourceFileID,
		Language:     lang,
		Cues:         subtitle.ParseSRT(req.Text),
		BypassCache:  req.Config.BypassCache,
		ConfigHash:   configHash,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if s.bus != nil && configHash != "" {
		s.bus.PublishEpisode(configHash, entry.BaseKey)
	}

	status := http.StatusAccepted
	if entry.Status == translate.StatusComplete {
		status = http.StatusOK
	}
	writeJSON(w, status, translateResponse{
		BaseKey:   entry.BaseKey,
		CacheKey:  entry.CacheKey,
		Status:    entry.Status,
		Total:     entry.TotalBatches,
		Completed: entry.CompletedCount(),
	})
}

// handleTranslation serves the current state of a build. Complete and
// partial entries render as SRT; the status travels in headers so players
// can poll without parsing bodies.
//
//	GET /translation/{baseKey}?scope=<config hash>
func (s *Server) handleTranslation(w http.ResponseWriter, r *http.Request) {
	baseKey := chi.URLParam(r, "baseKey")
	entry, err := s.translator.Get(r.Context(), baseKey, r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Translation-Status", string(entry.Status))
	w.Header().Set("X-Translation-Progress", fmt.Sprintf("%d/%d", entry.CompletedCount(), entry.TotalBatches))

	if entry.Status == translate.StatusFailed {
		writeJSON(w, http.StatusConflict, errorBody{Error: entry.Error, Code: "translation_failed"})
		return
	}

	w.Header().Set("Content-Type", subtitle.FormatSRT.ContentType())
	if entry.Status != translate.StatusComplete {
		// Partial bodies must not be cached anywhere.
		w.Header().Set("Cache-Control", "no-store")
	}
	_, _ = w.Write([]byte(subtitle.RenderSRT(entry.TranslatedCues())))
}

// handleSessionStats reports version, limits and live state for the
// session overview.
//
//	GET /session-stats
func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"version": version.Version,
		"limits": map[string]any{
			"providerTimeoutMs":  s.settings.Providers.TimeoutMS,
			"maxSSEListeners":    s.settings.Activity.MaxListeners,
			"translateBatchSize": s.settings.Translate.BatchSize,
		},
	}
	if s.breakers != nil {
		stats["circuitBreakers"] = s.breakers.States()
	}
	if s.tracker != nil {
		if active, err := s.tracker.Active(r.Context()); err == nil {
			stats["activeStreams"] = active
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
