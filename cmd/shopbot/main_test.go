package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/shopbot/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() { Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit }()

	Version, BuildTime, GitCommit = "1.2.3", "unknown", "unknown"
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ShopBot 1.2.3\n", out)

	BuildTime, GitCommit = "2026-01-01", "abc123"
	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Built: 2026-01-01")
	assert.Contains(t, out, "Commit: abc123")
}

func TestPromoCreateAndList(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "promo", "list", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "No promo codes\n", out)

	out, err = execute(t, "promo", "create", "--data-dir", dir, "--code", "launch20", "--discount-value", "20", "--max-uses", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "Created promo code LAUNCH20 (20% off, max uses: 100")

	out, err = execute(t, "promo", "create", "--data-dir", dir, "--code", "flat15", "--discount-type", "fixed", "--discount-value", "15")
	require.NoError(t, err)
	assert.Contains(t, out, "$15 off, max uses: unlimited")

	_, err = execute(t, "promo", "create", "--data-dir", dir, "--code", "LAUNCH20", "--discount-value", "10")
	assert.Error(t, err)

	_, err = execute(t, "promo", "create", "--data-dir", dir, "--code", "TOOBIG", "--discount-value", "150")
	assert.Error(t, err)

	_, err = execute(t, "promo", "create", "--data-dir", dir, "--discount-value", "10")
	assert.Error(t, err)

	out, err = execute(t, "promo", "list", "--data-dir", dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "CODE"))
	assert.Contains(t, out, "0/100")
	assert.Contains(t, out, "0/unlimited")
}

func TestPromoCreate_DataDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)

	_, err := execute(t, "promo", "create", "--code", "ENVCODE", "--discount-value", "5")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "shopbot.db"))
	assert.NoError(t, err)
}

func TestReportCmd(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "promo", "create", "--data-dir", dir, "--code", "SPRING", "--discount-value", "10", "--description", "Spring sale")
	require.NoError(t, err)

	out, err := execute(t, "report", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "PROMO CODES")
	assert.Contains(t, out, "SPRING")
	assert.Contains(t, out, "Spring sale")

	out, err = execute(t, "report", "--data-dir", dir, "--csv")
	require.NoError(t, err)
	assert.Contains(t, out, "promo,SPRING,10% off")

	pdfPath := filepath.Join(t.TempDir(), "report.pdf")
	out, err = execute(t, "report", "--data-dir", dir, "--pdf", pdfPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+pdfPath)
	raw, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF-")))

	_, err = execute(t, "report", "--data-dir", dir, "--csv", "--pdf", pdfPath)
	assert.Error(t, err)
}

func TestHashPasswordCmd(t *testing.T) {
	_, err := execute(t, "hashpw")
	assert.Error(t, err)

	_, err = execute(t, "hashpw", "short")
	assert.Error(t, err)

	out, err := execute(t, "hashpw", "this-is-a-test-password")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.True(t, auth.CheckPasswordHash("this-is-a-test-password", hash))
}

func TestRootCmd_ConfigError(t *testing.T) {
	for _, key := range []string{"ANTHROPIC_API_KEY", "STRIPE_SECRET_KEY", "STRIPE_PUBLISHABLE_KEY", "STRIPE_PRICE_ID_BASIC", "SECRET_KEY", "ADMIN_KEY"} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())

	_, err := execute(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
