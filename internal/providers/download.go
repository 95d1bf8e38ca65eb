// SPDX-License-Identifier: MIT

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/submaker/submaker/internal/archive"
	"github.com/submaker/submaker/internal/encoding"
	"github.com/submaker/submaker/internal/httpx"
	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/store"
	"github.com/submaker/submaker/internal/subtitle"
)

const (
	downloadAttempts    = 3
	downloadBackoffBase = 800 * time.Millisecond
	cdnProbeTimeout     = 4 * time.Second
	maxDownloadBody     = archive.MaxArchiveSize + 1
	cdnLinkKeyPrefix    = "cdnlink:"
)

// InfoProvider marks synthesized informational entries in descriptor ids.
const InfoProvider = "info"

// DownloadRequest identifies the subtitle to fetch plus the context needed
// to pick the right entry out of an archive.
type DownloadRequest struct {
	ID       string // encoded descriptor id
	Filename string // video filename, for archive entry affinity
}

// DownloadResult is the final, UTF-8, plain-text subtitle.
type DownloadResult struct {
	Name        string          `json:"name"`
	Format      subtitle.Format `json:"format"`
	Text        string          `json:"text"`
	Synthesized bool            `json:"synthesized"`
}

// Downloader runs the shared fetch pipeline for every provider: cached CDN
// link first, details call as fallback, bounded retries, then body
// analysis and archive extraction.
type Downloader struct {
	clients map[string]Provider
	http    *http.Client
	meta    store.Store
	logger  zerolog.Logger
}

func NewDownloader(clients map[string]Provider, httpClient *http.Client, meta store.Store) *Downloader {
	return &Downloader{
		clients: clients,
		http:    httpClient,
		meta:    meta,
		logger:  log.WithComponent("download"),
	}
}

// Download fetches and post-processes one subtitle. Upstream refusals that
// cannot be retried come back as a synthesized informational subtitle, not
// an error, so the player always has something to show.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) (DownloadResult, error) {
	provider, localID, packSeason, packEpisode, err := subtitle.DecodeID(req.ID)
	if err != nil {
		return DownloadResult{}, err
	}
	if provider == InfoProvider {
		// Warning entries synthesized at search time carry their message
		// as the local id.
		return synthesizedResult(localID), nil
	}
	client, ok := d.clients[provider]
	if !ok {
		return DownloadResult{}, fmt.Errorf("unknown provider %q in subtitle id", provider)
	}

	body, name, err := d.fetch(ctx, client, req.ID, localID)
	if err != nil {
		if oe, ok := AsOpError(err); ok && !oe.Retryable() {
			return synthesizedResult(oe.UserMessage()), nil
		}
		return DownloadResult{}, err
	}

	return d.analyze(body, name, archive.Request{
		Filename:     req.Filename,
		Season:       packSeason,
		Episode:      packEpisode,
		IsSeasonPack: packSeason > 0 && packEpisode > 0,
	})
}

// fetch tries the cached CDN link with a short probe before paying for a
// details round trip. A transient CDN failure does not fall back serially:
// the cached link keeps retrying while a fresh details resolve races it,
// and the first success wins.
func (d *Downloader) fetch(ctx context.Context, client Provider, id, localID string) ([]byte, string, error) {
	provider := client.Name()

	link := d.cachedLink(ctx, id)
	if link == "" {
		return d.resolveAndFetch(ctx, client, id, localID)
	}

	probeCtx, cancel := context.WithTimeout(ctx, cdnProbeTimeout)
	body, name, err := d.fetchURL(probeCtx, provider, link)
	cancel()
	if err == nil {
		return body, name, nil
	}
	d.logger.Debug().
		Str("event", "download.cdn_probe_failed").
		Str("provider", provider).
		Err(err).
		Msg("cached link failed")

	if oe, ok := AsOpError(err); !ok || !oe.Retryable() {
		// Dead or revoked link; nothing worth racing against.
		return d.resolveAndFetch(ctx, client, id, localID)
	}

	type outcome struct {
		body []byte
		name string
		err  error
	}
	raceCtx, cancelRace := context.WithCancel(ctx)
	defer cancelRace()

	cdnCh := make(chan outcome, 1)
	detailsCh := make(chan outcome, 1)
	go func() {
		body, name, err := d.retryURL(raceCtx, provider, link)
		cdnCh <- outcome{body, name, err}
	}()
	go func() {
		body, name, err := d.resolveAndFetch(raceCtx, client, id, localID)
		detailsCh <- outcome{body, name, err}
	}()

	var detailsErr error
	for cdnCh != nil || detailsCh != nil {
		select {
		case o := <-cdnCh:
			cdnCh = nil
			if o.err == nil {
				return o.body, o.name, nil
			}
		case o := <-detailsCh:
			detailsCh = nil
			if o.err == nil {
				return o.body, o.name, nil
			}
			detailsErr = o.err
		}
	}
	return nil, "", detailsErr
}

// resolveAndFetch is the details path: resolve a fresh link, cache it, pull
// the body, with bounded retries on transient failures.
func (d *Downloader) resolveAndFetch(ctx context.Context, client Provider, id, localID string) ([]byte, string, error) {
	var (
		body []byte
		name string
	)
	err := retry.Do(
		func() error {
			link, err := client.ResolveDownload(ctx, localID)
			if err != nil {
				return err
			}
			d.storeLink(ctx, id, link)
			body, name, err = d.fetchURL(ctx, client.Name(), link)
			return err
		},
		d.retryOpts(ctx)...,
	)
	return body, name, err
}

// retryURL re-fetches a known link with the same retry policy.
func (d *Downloader) retryURL(ctx context.Context, provider, link string) ([]byte, string, error) {
	var (
		body []byte
		name string
	)
	err := retry.Do(
		func() error {
			var err error
			body, name, err = d.fetchURL(ctx, provider, link)
			return err
		},
		d.retryOpts(ctx)...,
	)
	return body, name, err
}

func (d *Downloader) retryOpts(ctx context.Context) []retry.Option {
	deadline, hasDeadline := ctx.Deadline()
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(downloadAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			oe, ok := AsOpError(err)
			return ok && oe.Retryable()
		}),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			delay := downloadBackoffBase << n
			if hasDeadline {
				// Never sleep away more than a third of what is left.
				if limit := time.Until(deadline) / 3; limit > 0 && delay > limit {
					delay = limit
				}
			}
			return delay
		}),
	}
}

func (d *Downloader) fetchURL(ctx context.Context, provider, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	httpx.ApplyHeaders(req, provider)
	// Some CDNs vary behavior on Accept; ask for archives and plain text.
	req.Header.Set("Accept", "application/zip, application/x-subrip, text/plain, */*")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, "", NewTransportError(provider, "download", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, "", NewHTTPError(provider, "download", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBody))
	if err != nil {
		return nil, "", NewTransportError(provider, "download", err)
	}
	return body, filenameFromResponse(resp), nil
}

// analyze inspects the payload: archives go through the extractor, error
// pages served with a 200 become informational subtitles, everything else
// is treated as subtitle text of unknown encoding.
func (d *Downloader) analyze(body []byte, name string, areq archive.Request) (DownloadResult, error) {
	if _, isArchive := archive.Detect(body); isArchive {
		res, err := archive.Extract(body, areq)
		if err != nil {
			return DownloadResult{}, err
		}
		return DownloadResult{
			Name:        res.Name,
			Format:      res.Format,
			Text:        encoding.ToUTF8(res.Data),
			Synthesized: res.Synthesized,
		}, nil
	}

	if looksLikeErrorPage(body) {
		return synthesizedResult("Provider returned an error page instead of a subtitle"), nil
	}

	format, ok := subtitle.ParseFormat(name)
	if !ok {
		format = subtitle.FormatSRT
	}
	if name == "" {
		name = "subtitle." + string(format)
	}
	return DownloadResult{Name: name, Format: format, Text: encoding.ToUTF8(body)}, nil
}

func (d *Downloader) cachedLink(ctx context.Context, id string) string {
	if d.meta == nil {
		return ""
	}
	raw, err := d.meta.Get(ctx, store.ProviderMeta, cdnLinkKeyPrefix+id)
	if err != nil {
		return ""
	}
	var link string
	if json.Unmarshal(raw, &link) != nil {
		return ""
	}
	return link
}

func (d *Downloader) storeLink(ctx context.Context, id, link string) {
	if d.meta == nil || link == "" {
		return
	}
	raw, _ := json.Marshal(link)
	// CDN links are signed and short lived; do not keep them for the full
	// provider_meta retention.
	if err := d.meta.Set(ctx, store.ProviderMeta, cdnLinkKeyPrefix+id, raw, 6*time.Hour); err != nil {
		d.logger.Debug().Err(err).Msg("caching download link failed")
	}
}

func synthesizedResult(message string) DownloadResult {
	return DownloadResult{
		Name:        "info.srt",
		Format:      subtitle.FormatSRT,
		Text:        subtitle.Informational(message),
		Synthesized: true,
	}
}

// looksLikeErrorPage detects HTML or JSON served where subtitle text was
// expected.
func looksLikeErrorPage(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 512)])))
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		strings.HasPrefix(head, "{") ||
		strings.HasPrefix(head, "[")
}

func filenameFromResponse(resp *http.Response) string {
	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	const marker = "filename="
	idx := strings.Index(cd, marker)
	if idx < 0 {
		return ""
	}
	name := strings.Trim(cd[idx+len(marker):], `"; `)
	return strings.TrimSpace(name)
}
