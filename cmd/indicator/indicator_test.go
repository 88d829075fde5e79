package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SANDBOX_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("SANDBOX_SQLITE_PATH", filepath.Join(dir, "bars.db"))
	t.Setenv("SANDBOX_ATTACHMENTS_DIR", filepath.Join(dir, "attachments"))
	t.Setenv("SANDBOX_JOURNAL_DIR", filepath.Join(dir, "journal"))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"period=14", " mult = 2.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"period": 14, "mult": 2.5}, got)

	_, err = parseParams([]string{"period"})
	assert.Error(t, err)
	_, err = parseParams([]string{"period=x"})
	assert.Error(t, err)
}

func TestRunCommand_MockBars(t *testing.T) {
	script := filepath.Join(t.TempDir(), "closes.js")
	require.NoError(t, os.WriteFile(script, []byte(`
export default async function (env) {
  const bars = await env.getBars();
  console.log("bars", bars.length);
  await env.plot.line("close", bars.slice(-3).map(b => ({ time: b.time, value: b.close })));
}`), 0o644))

	out, err := execute(t, "run", script, "--mock", "--symbol", "AAPL", "--timeframe", "1d")
	require.NoError(t, err)
	assert.Contains(t, out, "[log] bars 1000")
	assert.Contains(t, out, `"state": "completed"`)
	assert.Contains(t, out, `"id": "cli/run::close"`)
}

func TestRunCommand_NoExportFails(t *testing.T) {
	script := filepath.Join(t.TempDir(), "bad.js")
	require.NoError(t, os.WriteFile(script, []byte(`const x = 1;`), 0o644))

	out, err := execute(t, "run", script, "--mock")
	require.Error(t, err)
	assert.Contains(t, out, "no callable export")
}

func TestBarsImportListExport(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "btc.csv")
	require.NoError(t, os.WriteFile(csv, []byte("timestamp,open,high,low,close,volume\n1700000000,1,2,0.5,1.5,10\n1700003600,1.5,2,1,1.8,12\n"), 0o644))
	db := filepath.Join(dir, "bars.db")

	out, err := execute(t, "--sqlite", db, "bars", "import", csv, "--symbol", "BTCUSD", "--timeframe", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 bars")

	out, err = execute(t, "--sqlite", db, "bars", "list")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "BTCUSD"), out)

	pq := filepath.Join(dir, "btc.parquet")
	out, err = execute(t, "--sqlite", db, "bars", "export", "--symbol", "BTCUSD", "--timeframe", "1h", "--out", pq)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 bars")
	_, err = os.Stat(pq)
	require.NoError(t, err)
}

func TestBuiltinsList(t *testing.T) {
	out, err := execute(t, "builtins")
	require.NoError(t, err)
	for _, id := range []string{"sma", "ema", "vwap", "bb", "rsi", "macd"} {
		assert.Contains(t, out, id)
	}
}
