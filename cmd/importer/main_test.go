package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/catalog-importer/pkg/config"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// ============================================================================
// Table rendering
// ============================================================================

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Row", "Title"},
		[][]string{{"2", "Yesterday"}, {"10"}},
		[]columnAlignment{alignRight},
	)

	assert.Contains(t, out, "Row")
	assert.Contains(t, out, "Yesterday")
	assert.Contains(t, out, "10")
	assert.Empty(t, renderTable(nil, nil, nil))
}

// ============================================================================
// Commands that need no database
// ============================================================================

func TestFormatsCommand(t *testing.T) {
	out, _, err := runCLI(t, "formats")
	require.NoError(t, err)

	for _, id := range []string{"standard_template", "publisher_export", "contract_register", "royalty_statement"} {
		assert.Contains(t, out, id)
	}
}

func TestTemplateCommand(t *testing.T) {
	t.Run("csv to stdout", func(t *testing.T) {
		out, _, err := runCLI(t, "template", "--format", "royalty_statement")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "Title")
	})

	t.Run("xlsx to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "works.xlsx")
		_, _, err := runCLI(t, "template", "--kind", "xlsx", "-o", path)
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	})

	t.Run("xlsx needs a file", func(t *testing.T) {
		_, _, err := runCLI(t, "template", "--kind", "xlsx")
		assert.Error(t, err)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := runCLI(t, "template", "--format", "nope")
		assert.ErrorContains(t, err, "unknown format")
	})
}

func TestTokenCommand(t *testing.T) {
	user := "3f1c2d4e-5a6b-4c7d-8e9f-0a1b2c3d4e5f"
	owner := "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b"

	out, _, err := runCLI(t, "token", "--user", user, "--owner", owner, "--email", "ops@example.com")
	require.NoError(t, err)

	var access string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "IMPORT_ACCESS_TOKEN="); ok {
			access = v
		}
	}
	require.NotEmpty(t, access)

	claims, err := newTokenManager(&config.Config{Auth: config.AuthConfig{JWTSecret: "test-secret"}}).ValidateAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, owner, claims.OwnerID)
	assert.Equal(t, "ops@example.com", claims.Email)

	_, _, err = runCLI(t, "token", "--user", "not-a-uuid", "--owner", owner)
	assert.Error(t, err)
}

func TestEnvFlagOverridesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importer.env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_FORMAT=yaml\n"), 0o600))
	t.Setenv("LOG_FORMAT", "text")

	_, _, err := runCLI(t, "--env", path, "formats")
	assert.ErrorContains(t, err, "LOG_FORMAT")
}
