// SPDX-License-Identifier: MIT

package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithComponentProducesLogger(t *testing.T) {
	l := WithComponent("test")
	// Smoke: the derived logger must be usable without configuration.
	l.Debug().Msg("derived logger works")
}

func TestMarkLogged(t *testing.T) {
	base := errors.New("upstream exploded")
	require.False(t, IsLogged(base))

	marked := MarkLogged(base)
	require.True(t, IsLogged(marked))
	require.EqualError(t, marked, "upstream exploded")

	// Wrapping preserves the marker.
	wrapped := errors.Join(errors.New("context"), marked)
	require.True(t, IsLogged(wrapped))

	// Double-marking is a no-op.
	require.Same(t, marked, MarkLogged(marked))
	require.Nil(t, MarkLogged(nil))
}

func TestShouldReportCapsPerFingerprint(t *testing.T) {
	ResetReportCounts()
	for i := 0; i < maxSendsPerFingerprint; i++ {
		require.True(t, ShouldReport("rate_limit:opensubtitles"))
	}
	require.False(t, ShouldReport("rate_limit:opensubtitles"))
	require.True(t, ShouldReport("auth:subdl"))
}
