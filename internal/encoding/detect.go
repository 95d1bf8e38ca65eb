// SPDX-License-Identifier: MIT

// Package encoding turns subtitle bytes of unknown provenance into UTF-8.
package encoding

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

const (
	sniffLimit = 4 << 10 // chardet sample size

	// maxReplacementRatio gates a decode result: above this share of
	// U+FFFD characters the guessed encoding is considered wrong.
	maxReplacementRatio = 0.10
)

// fallbacks is ordered by regional likelihood for subtitle content.
var fallbacks = []encoding.Encoding{
	unicode.UTF8,
	charmap.Windows1252,
	charmap.ISO8859_1,
	charmap.ISO8859_15,
	charmap.Windows1250,
	charmap.Windows1251,
	charmap.Windows1256,
	charmap.Windows1255,
	charmap.Windows1253,
	charmap.Windows1254,
	charmap.Windows1258,
	charmap.Windows874,
	charmap.KOI8R,
}

// ToUTF8 decodes raw subtitle bytes to a UTF-8 string.
//
// Pipeline: BOM sniff, chardet on the first 4 KB, decode, validate by
// replacement-character ratio, and fall back through the regional list
// picking whichever decode produced the fewest replacements.
func ToUTF8(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	if enc, trimmed, ok := sniffBOM(raw); ok {
		if out, bad := decode(enc, trimmed); bad >= 0 {
			return out
		}
	}

	if enc := detectCharset(raw); enc != nil {
		out, bad := decode(enc, raw)
		switch {
		case bad == 0:
			return out
		case bad > 0 && enc != unicode.UTF8 && ratio(bad, out) <= maxReplacementRatio:
			// Legacy codepages map almost every byte, so a few
			// replacements are tolerable. A UTF-8 guess, however, must
			// validate strictly: mis-decoded single-byte text often stays
			// under the ratio gate.
			return out
		}
	}

	// Fallback sweep: keep the decode with the fewest replacements.
	bestOut := ""
	bestBad := -1
	for _, enc := range fallbacks {
		out, bad := decode(enc, raw)
		if bad < 0 {
			continue
		}
		if bad == 0 {
			return out
		}
		if bestBad < 0 || bad < bestBad {
			bestOut, bestBad = out, bad
		}
	}
	if bestBad >= 0 {
		return bestOut
	}
	// Last resort: lossy UTF-8 interpretation.
	return string(bytes.ToValidUTF8(raw, []byte("�")))
}

// sniffBOM detects UTF-8 / UTF-16 byte order marks.
func sniffBOM(raw []byte) (encoding.Encoding, []byte, bool) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return unicode.UTF8, raw[3:], true
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), raw[2:], true
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), raw[2:], true
	}
	return nil, nil, false
}

// detectCharset runs chardet on a bounded sample and maps the result to a
// decoder.
func detectCharset(raw []byte) encoding.Encoding {
	sample := raw
	if len(sample) > sniffLimit {
		sample = sample[:sniffLimit]
	}
	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || result == nil {
		return nil
	}
	name := strings.TrimSpace(result.Charset)
	if name == "" {
		return nil
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc
	}
	// chardet uses a few names the IANA index does not know.
	switch strings.ToLower(name) {
	case "gb-18030":
		if enc, err := ianaindex.IANA.Encoding("GB18030"); err == nil {
			return enc
		}
	}
	return nil
}

// decode returns the decoded string and the replacement count; a negative
// count signals a failed decode.
func decode(enc encoding.Encoding, raw []byte) (string, int) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", -1
	}
	s := string(out)
	if !utf8.ValidString(s) {
		return "", -1
	}
	return s, strings.Count(s, "�")
}

func ratio(bad int, s string) float64 {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return float64(bad) / float64(n)
}
