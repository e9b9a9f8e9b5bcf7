package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testConfigFile(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "kestrel.db")
	return writeFile(t, "kestrel.yaml", fmt.Sprintf(`
repository:
  driver: sqlite
  sqlitePath: %q
logging:
  level: error
`, db))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kestrel "+Version)
}

func TestProcessCommand(t *testing.T) {
	cfgPath := testConfigFile(t)

	t.Run("FromStdin", func(t *testing.T) {
		out, err := run(t,
			`{"customerId":"cust-cli","amountMinor":4999,"currency":"USD","narrative":"I was charged twice for the same order, a duplicate charge."}`,
			"process", "--config", cfgPath)
		require.NoError(t, err)

		var res domain.CaseResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, domain.StatusCompleted, res.Status)
		assert.True(t, strings.HasPrefix(res.CaseID, domain.CaseIDPrefix))
		assert.Len(t, res.AuditEvents, 3)
		assert.True(t, domain.IsLabel(res.Classification.Label))
		assert.True(t, domain.IsAction(res.Recommendation.Label))
	})

	t.Run("FromFile", func(t *testing.T) {
		file := writeFile(t, "dispute.json", `{"amountMinor":1500,"currency":"EUR","narrative":"The item never arrived."}`)
		out, err := run(t, "", "process", "--config", cfgPath, "--file", file)
		require.NoError(t, err)
		assert.Contains(t, out, `"status": "COMPLETED"`)
	})

	t.Run("InvalidDispute", func(t *testing.T) {
		_, err := run(t, `{"amountMinor":0,"currency":"USD","narrative":"x"}`, "process", "--config", cfgPath)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		_, err := run(t, `{`, "process", "--config", cfgPath)
		assert.Error(t, err)
	})
}
