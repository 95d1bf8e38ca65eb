// SPDX-License-Identifier: MIT

package archive

import (
	"bytes"
	"errors"
	"io"

	"github.com/nwaples/rardecode/v2"

	"github.com/submaker/submaker/internal/subtitle"
)

// rarEntries buffers subtitle entries out of a RAR stream. The format is
// sequential, so candidates are read up front instead of lazily.
func rarEntries(data []byte) ([]entry, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var out []entry
	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.IsDir {
			continue
		}
		format, ok := subtitle.ParseFormat(hdr.Name)
		if !ok {
			continue
		}
		payload, err := io.ReadAll(io.LimitReader(rr, maxEntrySize+1))
		if err != nil {
			return nil, err
		}
		if len(payload) > maxEntrySize {
			continue
		}
		out = append(out, entry{
			name:   hdr.Name,
			format: format,
			open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(payload)), nil
			},
		})
	}
}
