// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submaker/submaker/internal/activity"
	"github.com/submaker/submaker/internal/config"
	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/providers"
	"github.com/submaker/submaker/internal/resilience"
	"github.com/submaker/submaker/internal/search"
	"github.com/submaker/submaker/internal/store"
	"github.com/submaker/submaker/internal/subtitle"
	"github.com/submaker/submaker/internal/translate"
)

type fakeProvider struct {
	name    string
	results []subtitle.Descriptor
	err     error

	mu   sync.Mutex
	last providers.SearchRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, req providers.SearchRequest) ([]subtitle.Descriptor, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return f.results, f.err
}

func (f *fakeProvider) lastReq() providers.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeProvider) ResolveDownload(ctx context.Context, localID string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

type instantTranslator struct{}

func (instantTranslator) TranslateBatch(ctx context.Context, cues []subtitle.Cue, targetLang string) ([]subtitle.Cue, error) {
	out := make([]subtitle.Cue, len(cues))
	copy(out, cues)
	for i := range out {
		out[i].Text = "[" + targetLang + "] " + out[i].Text
	}
	return out, nil
}

func testServer(t *testing.T, clients map[string]providers.Provider) (*Server, *httptest.Server) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisStoreFromClient(client, "test", log.WithComponent("test"))

	breakers := resilience.NewRegistry()
	tracker := activity.NewTracker(st)
	bus := activity.NewBus(activity.Options{MaxListeners: 2}, tracker)
	svc := translate.NewService(st, instantTranslator{}, bus, translate.Options{BatchSize: 10})

	srv := NewServer(Deps{
		Settings:   config.Defaults(),
		Engine:     search.NewEngine(clients, breakers, 2*time.Second),
		Downloader: providers.NewDownloader(clients, &http.Client{}, st),
		Translator: svc,
		Bus:        bus,
		Tracker:    tracker,
		Breakers:   breakers,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestSearchEndpoint(t *testing.T) {
	clients := map[string]providers.Provider{
		"fake": &fakeProvider{name: "fake", results: []subtitle.Descriptor{{
			ID: subtitle.EncodeID("fake", "42", 0, 0), Provider: "fake",
			LanguageCode: "eng", Name: "Some.Movie.2020", Format: subtitle.FormatSRT,
		}}},
	}
	_, ts := testServer(t, clients)

	resp, err := http.Get(ts.URL + "/subtitles/movie/tt1234567?languages=en")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res search.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Len(t, res.Subtitles, 1)
	assert.Equal(t, "fake", res.Subtitles[0].Provider)
}

func TestSearchEndpointSeriesIDParsing(t *testing.T) {
	clients := map[string]providers.Provider{"fake": &fakeProvider{name: "fake"}}
	_, ts := testServer(t, clients)

	resp, err := http.Get(ts.URL + "/subtitles/series/tt1234567:2:5/filename=Show.S02E05.mkv&languages=de.json")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/subtitles/series/tt1234567")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestSearchEndpointAnimeMediaTypes(t *testing.T) {
	fp := &fakeProvider{name: "fake"}
	_, ts := testServer(t, map[string]providers.Provider{"fake": fp})

	// Absolute numbering: id:episode maps onto season 1.
	resp, err := http.Get(ts.URL + "/subtitles/anime/tt7654321:12.json")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := fp.lastReq()
	assert.Equal(t, providers.MediaEpisode, got.Type)
	assert.Equal(t, 1, got.Season)
	assert.Equal(t, 12, got.Episode)

	resp2, err := http.Get(ts.URL + "/subtitles/anime-episode/tt7654321:2:3")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	got = fp.lastReq()
	assert.Equal(t, 2, got.Season)
	assert.Equal(t, 3, got.Episode)
}

func TestDownloadEndpointSynthesized(t *testing.T) {
	_, ts := testServer(t, map[string]providers.Provider{})

	id := subtitle.EncodeID(providers.InfoProvider, "Check your provider credentials", 0, 0)
	resp, err := http.Get(ts.URL + "/subtitle/download?id=" + id)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Check your provider credentials")
	assert.Contains(t, resp.Header.Get("Content-Type"), "subrip")
}

func TestDownloadEndpointMissingID(t *testing.T) {
	_, ts := testServer(t, map[string]providers.Provider{})
	resp, err := http.Get(ts.URL + "/subtitle/download")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func srtFixture() string {
	return "1\n00:00:01,000 --> 00:00:02,000\nhello\n\n2\n00:00:03,000 --> 00:00:04,000\nworld\n"
}

func TestTranslateAndFetchTranslation(t *testing.T) {
	_, ts := testServer(t, map[string]providers.Provider{})

	payload, _ := json.Marshal(translateRequest{
		SourceFileID: "file1",
		Language:     "spa",
		Text:         srtFixture(),
	})
	resp, err := http.Post(ts.URL+"/translate", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Contains(t, []int{http.StatusOK, http.StatusAccepted}, resp.StatusCode)

	var tr translateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.Equal(t, "file1_spa", tr.BaseKey)

	// The build is asynchronous; poll until complete.
	deadline := time.Now().Add(5 * time.Second)
	for {
		r2, err := http.Get(ts.URL + "/translation/file1_spa")
		require.NoError(t, err)
		if r2.Header.Get("X-Translation-Status") == "complete" {
			body, _ := io.ReadAll(r2.Body)
			_ = r2.Body.Close()
			assert.Contains(t, string(body), "[spa] hello")
			break
		}
		_ = r2.Body.Close()
		if time.Now().After(deadline) {
			t.Fatal("translation never completed")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestTranslationUnknownKey(t *testing.T) {
	_, ts := testServer(t, map[string]providers.Provider{})
	resp, err := http.Get(ts.URL + "/translation/nope_spa")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivityEndpointStreamsEvents(t *testing.T) {
	srv, ts := testServer(t, map[string]providers.Provider{})

	resp, err := http.Get(ts.URL + "/activity?config=hashA")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "retry: 5000\n", line)

	// Skip the blank line, then expect the ready frame.
	_, _ = reader.ReadString('\n')
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)

	srv.bus.Publish("hashA", translate.Event{Type: "partial", BaseKey: "file1_spa"})
	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: partial") {
			break
		}
	}
}

func TestActivityEndpointListenerCap(t *testing.T) {
	_, ts := testServer(t, map[string]providers.Provider{}) // cap is 2

	open := func() *http.Response {
		resp, err := http.Get(ts.URL + "/activity?config=hashB")
		require.NoError(t, err)
		return resp
	}
	a := open()
	defer func() { _ = a.Body.Close() }()
	b := open()
	defer func() { _ = b.Body.Close() }()

	c := open()
	defer func() { _ = c.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, c.StatusCode)
	assert.Equal(t, "5", c.Header.Get("Retry-After"))
}

func TestActivityEndpointMissingConfig(t *testing.T) {
	_, ts := testServer(t, map[string]providers.Provider{})
	resp, err := http.Get(ts.URL + "/activity")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionStats(t *testing.T) {
	_, ts := testServer(t, map[string]providers.Provider{})
	resp, err := http.Get(ts.URL + "/session-stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.NotEmpty(t, stats["version"])
	assert.Contains(t, stats, "limits")
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		code   providers.Code
		status int
	}{
		{providers.CodeRateLimit, http.StatusTooManyRequests},
		{providers.CodeQuotaExceeded, http.StatusForbidden},
		{providers.CodeAuthentication, http.StatusForbidden},
		{providers.CodeTimeout, http.StatusGatewayTimeout},
		{providers.CodeMaxTokens, http.StatusUnprocessableEntity},
		{providers.CodeServerError, http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, &providers.OpError{Provider: "p", Op: "o", Code: tc.code})
		assert.Equal(t, tc.status, rec.Code, string(tc.code))
	}
}
