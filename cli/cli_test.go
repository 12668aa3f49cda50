package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listings-etl/apperr"
	"listings-etl/testutil"
)

// writeConfig lays out a workspace under a temp dir and returns the config path.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
paths:
  input_dir: %[1]s/raw
  ledger: %[1]s/processed/processed_files.log
  merged: %[1]s/processed/merged
  partitioned: %[1]s/processed/partitioned
  work_dir: %[1]s/processed/work
  state_db: %[1]s/processed/state.db
logging:
  file: %[1]s/processed/logs.log
  level: debug
`, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "raw"), 0o755))
	return path, dir
}

func execute(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := execute("version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "listings-etl v"+Version)
}

func TestRunPendingHistory(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	raw := filepath.Join(dir, "raw")
	testutil.WriteCSV(t, raw, "b.csv", testutil.Row(3, "Queens", "120", "2019-03-01", "1"), testutil.Row(4, "Queens", "20", "", ""))
	testutil.WriteCSV(t, raw, "a.csv", testutil.Row(1, "Bronx", "99", "2019-01-01", "1"), testutil.Row(2, "Bronx", "0", "", ""), testutil.Row(5, "Bronx", "300", "", "2"))

	code, out, _ := execute("pending", "--config", cfgPath)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "a.csv\nb.csv\n", out)

	code, out, errOut := execute("run", "--config", cfgPath)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "a.csv")
	assert.Contains(t, out, "b.csv")

	code, out, _ = execute("pending", "--config", cfgPath)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "No new files to process.\n", out)

	code, out, _ = execute("run", "--config", cfgPath)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "No new files to process.\n", out)

	code, out, _ = execute("history", "--config", cfgPath)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "skipped")

	logs, err := os.ReadFile(filepath.Join(dir, "processed", "logs.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logs), "No new files to process. Skipping.")
	assert.Contains(t, string(logs), "Listings by Neighborhood Group")

	assert.NoFileExists(t, filepath.Join(dir, "processed", lockName))
}

func TestRun_MalformedExitsPermanent(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw", "bad.csv"), []byte("id,price\n1,2\n3,4\n"), 0o644))

	code, _, errOut := execute("run", "--config", cfgPath)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "PERMANENT")
}

func TestRun_LockedExitsTempFail(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	lock, err := acquireLock(filepath.Join(dir, "processed", lockName))
	require.NoError(t, err)
	defer lock.release()

	code, _, errOut := execute("run", "--config", cfgPath)
	assert.Equal(t, ExitTempFail, code)
	assert.Contains(t, errOut, "another run is in progress")
}

func TestFlagOverrides(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	other := filepath.Join(dir, "other")
	testutil.WriteCSV(t, other, "z.csv", testutil.Row(1, "Bronx", "99", "", ""), testutil.Row(2, "Bronx", "98", "", ""))

	code, out, _ := execute("pending", "--config", cfgPath, "--input-dir", other)
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "z.csv\n", out)
}

func TestBadConfigExitsPermanent(t *testing.T) {
	code, _, errOut := execute("pending", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "config")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitTempFail, ExitCode(apperr.Retryable(apperr.StageReport, errors.New("io"))))
	assert.Equal(t, ExitFailure, ExitCode(apperr.Permanent(apperr.StageRead, apperr.ErrMalformed)))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("unknown flag")))
	assert.Equal(t, ExitTempFail, ExitCode(context.Canceled))
}

func TestLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "x.lock")
	l, err := acquireLock(path)
	require.NoError(t, err)

	_, err = acquireLock(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.release())
	l, err = acquireLock(path)
	require.NoError(t, err)
	require.NoError(t, l.release())
}
