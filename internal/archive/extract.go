// SPDX-License-Identifier: MIT

// Package archive extracts the right subtitle entry out of ZIP and RAR
// downloads.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/submaker/submaker/internal/subtitle"
)

// MaxArchiveSize is the hard cap; bigger downloads are refused with a
// synthesized informational subtitle.
const MaxArchiveSize = 25 << 20

// maxEntrySize bounds a single decompressed entry so a zip bomb cannot
// exhaust memory.
const maxEntrySize = 10 << 20

// Kind identifies the archive container.
type Kind string

const (
	KindZIP Kind = "zip"
	KindRAR Kind = "rar"
)

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	rarMagic4 = []byte{'R', 'a', 'r', '!', 0x1A, 0x07, 0x00}
	rarMagic5 = []byte{'R', 'a', 'r', '!', 0x1A, 0x07, 0x01, 0x00}
)

// Detect sniffs the archive container from magic bytes.
func Detect(data []byte) (Kind, bool) {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return KindZIP, true
	case bytes.HasPrefix(data, rarMagic5), bytes.HasPrefix(data, rarMagic4):
		return KindRAR, true
	}
	return "", false
}

// Request describes which subtitle to pull out of an archive.
type Request struct {
	// Filename of the video being played, for affinity matching.
	Filename string

	Season  int
	Episode int

	// IsSeasonPack forces episode-aware entry selection.
	IsSeasonPack bool
}

// Result is the selected (or synthesized) subtitle.
type Result struct {
	Name        string
	Data        []byte
	Format      subtitle.Format
	Synthesized bool
}

type entry struct {
	name   string
	format subtitle.Format
	open   func() (io.ReadCloser, error)
}

// Extract picks the best subtitle entry from an archive buffer.
// It never fails on selection problems; those synthesize an informational
// subtitle so the player shows the reason instead of nothing.
func Extract(data []byte, req Request) (Result, error) {
	if len(data) > MaxArchiveSize {
		return synthesized(fmt.Sprintf("Subtitle archive too large (%d MB, limit %d MB)",
			len(data)>>20, MaxArchiveSize>>20)), nil
	}

	kind, ok := Detect(data)
	if !ok {
		return Result{}, fmt.Errorf("not a recognized archive")
	}

	var (
		entries []entry
		err     error
	)
	switch kind {
	case KindZIP:
		entries, err = zipEntries(data)
	case KindRAR:
		entries, err = rarEntries(data)
	}
	if err != nil {
		return Result{}, fmt.Errorf("read %s archive: %w", kind, err)
	}
	if len(entries) == 0 {
		return synthesized("No subtitle found inside the downloaded archive"), nil
	}

	best := selectEntry(entries, req)
	if best == nil {
		return synthesized(fmt.Sprintf("Episode %d not found in season pack", req.Episode)), nil
	}

	rc, err := best.open()
	if err != nil {
		return Result{}, fmt.Errorf("open archive entry %s: %w", best.name, err)
	}
	defer func() { _ = rc.Close() }()

	payload, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return Result{}, fmt.Errorf("read archive entry %s: %w", best.name, err)
	}
	if len(payload) > maxEntrySize {
		return synthesized("Subtitle entry too large to extract"), nil
	}

	return Result{Name: path.Base(best.name), Data: payload, Format: best.format}, nil
}

func synthesized(message string) Result {
	return Result{
		Name:        "info.srt",
		Data:        []byte(subtitle.Informational(message)),
		Format:      subtitle.FormatSRT,
		Synthesized: true,
	}
}

func zipEntries(data []byte) ([]entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		format, ok := subtitle.ParseFormat(f.Name)
		if !ok {
			continue
		}
		out = append(out, entry{name: f.Name, format: format, open: f.Open})
	}
	return out, nil
}

// selectEntry applies the selection policy: episode match for season packs,
// filename affinity otherwise, ties broken by format preference.
func selectEntry(entries []entry, req Request) *entry {
	if req.IsSeasonPack || (req.Season > 0 && req.Episode > 0 && len(entries) > 1) {
		var best *entry
		bestScore := 0
		for i := range entries {
			score, ok := subtitle.MatchEpisode(path.Base(entries[i].name), req.Season, req.Episode)
			if !ok {
				continue
			}
			score = score*10 + subtitle.FormatPreference(entries[i].format)
			if score > bestScore {
				best, bestScore = &entries[i], score
			}
		}
		if req.IsSeasonPack {
			// Strict: a pack request without an episode match synthesizes.
			return best
		}
		if best != nil {
			return best
		}
	}

	if len(entries) == 1 {
		return &entries[0]
	}

	// Filename affinity, ties broken by extension preference.
	swg := metrics.NewSmithWatermanGotoh()
	base := strings.ToLower(strings.TrimSuffix(path.Base(req.Filename), path.Ext(req.Filename)))

	best := &entries[0]
	bestScore := affinity(swg, base, best)
	for i := 1; i < len(entries); i++ {
		if s := affinity(swg, base, &entries[i]); s > bestScore {
			best, bestScore = &entries[i], s
		}
	}
	return best
}

func affinity(swg *metrics.SmithWatermanGotoh, base string, e *entry) float64 {
	score := float64(subtitle.FormatPreference(e.format)) / 100
	if base == "" {
		return score
	}
	name := strings.ToLower(strings.TrimSuffix(path.Base(e.name), path.Ext(e.name)))
	return strutil.Similarity(base, name, swg) + score
}
