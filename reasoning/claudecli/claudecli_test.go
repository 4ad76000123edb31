package claudecli

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeagent/internal/logging"
	"github.com/rustyeddy/tradeagent/reasoning"
)

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts required")
	}
	path := filepath.Join(t.TempDir(), "fake-claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

var pkg = reasoning.Package{
	Candidates: []reasoning.Candidate{{Ticker: "AAPL", TotalScore: 0.8}},
}

func TestAnalyzeEnvelope(t *testing.T) {
	t.Parallel()

	path := script(t, `cat >/dev/null
printf '%s\n' '{"type":"result","is_error":false,"result":"Here you go {\"recommendations\":[{\"ticker\":\"AAPL\",\"action\":\"BUY\",\"confidence\":0.8,\"reasoning\":\"r\"}]}"}'`)

	a := New(Config{Path: path}).WithLogger(logging.Nop())
	resp, err := a.Analyze(context.Background(), pkg)
	require.NoError(t, err)
	assert.True(t, resp.ParseSuccess)
	require.Len(t, resp.Parsed.Recommendations, 1)
	assert.Equal(t, "AAPL", resp.Parsed.Recommendations[0].Ticker)
	assert.Nil(t, resp.Parsed.Recommendations[0].AllocationPct)
}

func TestAnalyzeReinforcesAfterParseFailure(t *testing.T) {
	t.Parallel()

	path := script(t, `if grep -q "IMPORTANT" ; then
  echo '{"recommendations":[]}'
else
  echo 'I think you should buy AAPL'
fi`)

	a := New(Config{Path: path, Args: []string{}}).WithLogger(logging.Nop())
	resp, err := a.Analyze(context.Background(), pkg)
	require.NoError(t, err)
	assert.True(t, resp.ParseSuccess)
	assert.Empty(t, resp.Parsed.Recommendations)
}

func TestAnalyzeExhaustsRetries(t *testing.T) {
	t.Parallel()

	path := script(t, `cat >/dev/null; echo 'no json here'`)
	a := New(Config{Path: path, Args: []string{}, MaxRetries: 2}).WithLogger(logging.Nop())

	_, err := a.Analyze(context.Background(), pkg)
	require.ErrorIs(t, err, reasoning.ErrParse)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestAnalyzeFailures(t *testing.T) {
	t.Parallel()

	exit := script(t, `cat >/dev/null; exit 3`)
	_, err := New(Config{Path: exit, Args: []string{}}).WithLogger(logging.Nop()).Analyze(context.Background(), pkg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")

	empty := script(t, `cat >/dev/null`)
	_, err = New(Config{Path: empty, Args: []string{}}).WithLogger(logging.Nop()).Analyze(context.Background(), pkg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty output")

	_, err = New(Config{Path: filepath.Join(t.TempDir(), "missing")}).WithLogger(logging.Nop()).Analyze(context.Background(), pkg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, reasoning.ErrParse)
}

func TestAnalyzeTimeout(t *testing.T) {
	t.Parallel()

	slow := script(t, `exec sleep 5`)
	a := New(Config{Path: slow, Args: []string{}, Timeout: 100 * time.Millisecond}).WithLogger(logging.Nop())

	_, err := a.Analyze(context.Background(), pkg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
