package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountdomain "github.com/smallbiznis/luc/internal/account/domain"
)

func executeCLI(t *testing.T, dataFile string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("STORE_FILE_PATH", dataFile)
	t.Setenv("LUC_CATALOG_FILE", "")

	root, cleanup := newRootCmd()
	defer cleanup()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDebitThenSummary(t *testing.T) {
	data := filepath.Join(t.TempDir(), "luc.json")

	stdout, _, err := executeCLI(t, data, "debit", "alice", "api_calls", "25", "-d", "smoke test")
	require.NoError(t, err)
	var result accountdomain.DebitResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 25.0, result.NewUsed)

	stdout, _, err = executeCLI(t, data, "summary", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "user: alice")
	assert.Contains(t, stdout, "api_calls")

	stdout, _, err = executeCLI(t, data, "history", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "smoke test")
}

func TestDebitDeniedExitsNonZero(t *testing.T) {
	data := filepath.Join(t.TempDir(), "luc.json")

	_, _, err := executeCLI(t, data, "debit", "bob", "brave_searches", "500")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debit denied")
}

func TestRejectsBadArguments(t *testing.T) {
	data := filepath.Join(t.TempDir(), "luc.json")

	_, _, err := executeCLI(t, data, "debit", "carol", "teleports", "1")
	require.ErrorIs(t, err, accountdomain.ErrUnknownService)

	_, _, err = executeCLI(t, data, "quote", "carol", "api_calls", "many")
	require.ErrorIs(t, err, accountdomain.ErrInvalidAmount)

	_, _, err = executeCLI(t, data, "plan", "carol", "platinum")
	require.ErrorIs(t, err, accountdomain.ErrUnknownPlan)
}

func TestExportImportFile(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "luc.json")
	out := filepath.Join(dir, "dave.json")

	_, _, err := executeCLI(t, data, "debit", "dave", "embeddings", "7")
	require.NoError(t, err)

	_, stderr, err := executeCLI(t, data, "export", "dave", "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stderr, "wrote")
	_, err = os.Stat(out)
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, data, "import", "erin", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "imported erin")

	stdout, _, err = executeCLI(t, data, "summary", "erin", "--json")
	require.NoError(t, err)
	var summary accountdomain.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "erin", summary.UserID)
}

func TestCatalogListsDefaultPlan(t *testing.T) {
	stdout, _, err := executeCLI(t, filepath.Join(t.TempDir(), "luc.json"), "catalog")
	require.NoError(t, err)
	assert.Contains(t, stdout, "free (default)")
	assert.Contains(t, stdout, "brave_searches")
}

func TestCreateFromPreset(t *testing.T) {
	data := filepath.Join(t.TempDir(), "luc.json")

	stdout, _, err := executeCLI(t, data, "presets", "--category", "professional")
	require.NoError(t, err)
	assert.Contains(t, stdout, "freelancer")
	assert.NotContains(t, stdout, "ai_platform")

	stdout, _, err = executeCLI(t, data, "create", "erin", "--preset", "freelancer")
	require.NoError(t, err)
	assert.Contains(t, stdout, "erin created on Free Tier tracking 3 services")

	stdout, _, err = executeCLI(t, data, "summary", "erin")
	require.NoError(t, err)
	assert.Contains(t, stdout, "code_generations")
	assert.NotContains(t, stdout, "elevenlabs_chars")

	_, _, err = executeCLI(t, data, "create", "erin", "--preset", "saas")
	if !errors.Is(err, accountdomain.ErrAccountExists) {
		t.Fatalf("expected a second create to fail with account_exists, got %v", err)
	}

	_, _, err = executeCLI(t, data, "create", "frank", "--preset", "mining")
	require.ErrorIs(t, err, accountdomain.ErrUnknownPreset)
}
