package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf)

	log.Info().Str("stage", "bank_prep").Msg("processing started")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "processing started")
	assert.Contains(t, out, "bank_prep")
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf)

	ctx := WithContext(context.Background(), log)
	got := FromContext(ctx)

	got.Info().Msg("from context")
	assert.True(t, strings.Contains(buf.String(), "from context"))
}

func TestNewAttachesRunID(t *testing.T) {
	a := New()
	b := New()

	var bufA, bufB bytes.Buffer
	aOut := a.Output(&bufA)
	bOut := b.Output(&bufB)
	aOut.Info().Msg("run a")
	bOut.Info().Msg("run b")

	assert.Contains(t, bufA.String(), "run_id")
	// Two invocations must be distinguishable in aggregated logs.
	assert.NotEqual(t, runID(t, bufA.String()), runID(t, bufB.String()))
}

func runID(t *testing.T, line string) string {
	t.Helper()
	idx := strings.Index(line, `"run_id":"`)
	require.GreaterOrEqual(t, idx, 0)
	rest := line[idx+len(`"run_id":"`):]
	end := strings.Index(rest, `"`)
	require.GreaterOrEqual(t, end, 0)
	return rest[:end]
}

func TestFromContextFallback(t *testing.T) {
	// Missing logger must not panic; a default logger is returned.
	log := FromContext(context.Background())
	log.Debug().Msg("fallback")
}
