// SPDX-License-Identifier: MIT

package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Cue is one timed subtitle segment.
type Cue struct {
	Index     int           `json:"index"`
	StartTime time.Duration `json:"startTime"`
	EndTime   time.Duration `json:"endTime"`
	Text      string        `json:"text"`
}

var reSRTTiming = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})`)

// ParseSRT parses SRT (or VTT-timed) text into cues. Malformed blocks are
// skipped rather than failing the whole file; real-world subtitles are
// rarely pristine.
func ParseSRT(text string) []Cue {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	blocks := strings.Split(text, "\n\n")

	var cues []Cue
	index := 0
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}
		timingLine := -1
		for i, line := range lines {
			if reSRTTiming.MatchString(line) {
				timingLine = i
				break
			}
		}
		if timingLine < 0 || timingLine == len(lines)-1 {
			continue
		}
		m := reSRTTiming.FindStringSubmatch(lines[timingLine])
		start := cueTime(m[1], m[2], m[3], m[4])
		end := cueTime(m[5], m[6], m[7], m[8])
		body := strings.TrimSpace(strings.Join(lines[timingLine+1:], "\n"))
		if body == "" {
			continue
		}
		index++
		cues = append(cues, Cue{Index: index, StartTime: start, EndTime: end, Text: body})
	}
	return cues
}

func cueTime(h, m, s, ms string) time.Duration {
	for len(ms) < 3 {
		ms += "0"
	}
	hi, _ := strconv.Atoi(h)
	mi, _ := strconv.Atoi(m)
	si, _ := strconv.Atoi(s)
	msi, _ := strconv.Atoi(ms)
	return time.Duration(hi)*time.Hour +
		time.Duration(mi)*time.Minute +
		time.Duration(si)*time.Second +
		time.Duration(msi)*time.Millisecond
}

// RenderSRT serializes cues back to SRT.
func RenderSRT(cues []Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, srtStamp(cue.StartTime), srtStamp(cue.EndTime), cue.Text)
	}
	return b.String()
}

// RenderVTT serializes cues as WebVTT.
func RenderVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, cue := range cues {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			vttStamp(cue.StartTime), vttStamp(cue.EndTime), cue.Text)
	}
	return b.String()
}

// SRTToVTT converts SRT text to WebVTT.
func SRTToVTT(srt string) string {
	return RenderVTT(ParseSRT(srt))
}

func srtStamp(d time.Duration) string {
	return stamp(d, ",")
}

func vttStamp(d time.Duration) string {
	return stamp(d, ".")
}

func stamp(d time.Duration, msSep string) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, msSep, ms)
}

// Informational synthesizes a single-cue subtitle used to surface an
// operational condition (auth failure, oversized archive, missing pack
// entry) to the player instead of returning an error body.
func Informational(message string) string {
	cue := Cue{
		Index:     1,
		StartTime: 0,
		EndTime:   2 * time.Minute,
		Text:      message,
	}
	return RenderSRT([]Cue{cue})
}
