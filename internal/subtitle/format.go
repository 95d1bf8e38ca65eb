// SPDX-License-Identifier: MIT

package subtitle

import (
	"path"
	"strings"
)

// Format identifies a subtitle container format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
	FormatASS Format = "ass"
	FormatSSA Format = "ssa"
	FormatSUB Format = "sub"
)

// extensionPreference orders formats for archive entry selection ties.
var extensionPreference = map[Format]int{
	FormatSRT: 5,
	FormatVTT: 4,
	FormatASS: 3,
	FormatSSA: 2,
	FormatSUB: 1,
}

// ParseFormat maps a filename or bare extension to a Format.
func ParseFormat(name string) (Format, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		ext = strings.ToLower(name)
	}
	switch Format(ext) {
	case FormatSRT, FormatVTT, FormatASS, FormatSSA, FormatSUB:
		return Format(ext), true
	}
	return "", false
}

// IsSubtitleFile reports whether the filename carries a known subtitle
// extension.
func IsSubtitleFile(name string) bool {
	_, ok := ParseFormat(name)
	return ok
}

// FormatPreference returns the selection weight of a format; higher wins.
func FormatPreference(f Format) int {
	return extensionPreference[f]
}

// ContentType returns the MIME type served for a format.
func (f Format) ContentType() string {
	if f == FormatVTT {
		return "text/vtt"
	}
	return "application/x-subrip"
}
