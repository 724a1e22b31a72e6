package stream

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	chunks []string
	err    error
	pos    int
}

func (s *sliceSource) Next() (string, error) {
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func consume(t *testing.T, fallback string, chunks ...string) (Result, Snapshot) {
	t.Helper()
	d := NewDemux(fallback)
	res, err := d.Consume(context.Background(), &sliceSource{chunks: chunks}, nil)
	require.NoError(t, err)
	return res, d.Snapshot()
}

func TestDemux_TagAndBody(t *testing.T) {
	res, snap := consume(t, "Auto-detect", "Python", "--\ndef f():", "\n  pass")

	assert.True(t, res.TagFound)
	assert.Equal(t, "Python", res.Language)
	assert.Equal(t, "Python--\ndef f():\n  pass", res.Raw)
	assert.Equal(t, "def f():\n  pass", snap.Code)
}

func TestDemux_NoTag(t *testing.T) {
	res, snap := consume(t, "Go", "no tag here")

	assert.False(t, res.TagFound)
	assert.Equal(t, "Go", res.Language)
	assert.Equal(t, "no tag here", snap.Code)
}

func TestDemux_MultipleDelimiters(t *testing.T) {
	res, snap := consume(t, "Auto-detect", "Lua--\nx = 1 -- comment\n", "-- another")

	assert.Equal(t, "Lua", res.Language)
	assert.Equal(t, "x = 1 -- comment\n-- another", snap.Code)
}

func TestDemux_ProvisionalCodeBeforeTag(t *testing.T) {
	d := NewDemux("Rust")

	snap := d.Feed("Ru")
	assert.Equal(t, "Rust", snap.Language)
	assert.Equal(t, "Ru", snap.Code)
	assert.False(t, snap.TagFound)

	snap = d.Feed("st-")
	assert.Equal(t, "Rust-", snap.Code)

	snap = d.Feed("-\n  fn main() {}")
	assert.True(t, snap.TagFound)
	assert.Equal(t, "Rust", snap.Language)
	assert.Equal(t, "fn main() {}", snap.Code)
}

func TestDemux_LanguageFrozenAfterFirstDelimiter(t *testing.T) {
	d := NewDemux("Auto-detect")
	d.Feed("  Bash  --echo hi")
	snap := d.Feed("\nOther--thing")

	assert.Equal(t, "Bash", snap.Language)
	assert.Equal(t, "echo hi\nOther--thing", snap.Code)
}

func TestDemux_ChunkBoundaryInvariance(t *testing.T) {
	payloads := []string{
		"Python--\ndef f():\n  pass",
		"  TypeScript --  const a = 1;\n",
		"SQL--SELECT 1; -- trailing comment",
		"plain text without a tag",
		"--leading delimiter",
		"",
	}

	for _, payload := range payloads {
		want, wantSnap := consume(t, "Auto-detect", payload)

		for i := 0; i <= len(payload); i++ {
			for j := i; j <= len(payload); j++ {
				got, gotSnap := consume(t, "Auto-detect", payload[:i], payload[i:j], payload[j:])
				require.Equal(t, want, got, "payload %q split at %d,%d", payload, i, j)
				require.Equal(t, wantSnap, gotSnap, "payload %q split at %d,%d", payload, i, j)
			}
		}
	}
}

func TestDemux_SourceFaultKeepsPartialState(t *testing.T) {
	boom := errors.New("connection reset")
	d := NewDemux("Auto-detect")

	var seen []Snapshot
	_, err := d.Consume(context.Background(), &sliceSource{chunks: []string{"Go--", "package main"}, err: boom}, func(s Snapshot) {
		seen = append(seen, s)
	})

	require.ErrorIs(t, err, boom)
	require.Len(t, seen, 2)
	assert.Equal(t, "package main", d.Snapshot().Code)
	assert.Equal(t, "Go", d.Snapshot().Language)
}

func TestDemux_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDemux("").Consume(ctx, &sliceSource{chunks: []string{"a"}}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExtractBody(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Python--\nprint(1)", "print(1)"},
		{"no delimiter", "no delimiter"},
		{"A--b--c", "b--c"},
		{"A--   \n\t x", "x"},
		{"A--x  \n", "x  \n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractBody(tt.in), tt.in)
	}
}
