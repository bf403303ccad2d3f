package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()), "kiroku %v", args)
	return out.String()
}

func TestImportThenStatus(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kiroku.db")
	base := []string{"--sqlite-path", db, "--log-level", "error"}

	out := execute(t, append(base, "migrate")...)
	assert.Contains(t, out, "migrations applied")

	manifest := filepath.Join("..", "..", "examples", "branches.yaml")
	out = execute(t, append(base, "import", manifest)...)
	assert.Contains(t, out, "registered 6 branches")

	out = execute(t, append(base, "--json", "status")...)
	var st struct {
		Branches      map[string]int64 `json:"branches"`
		BranchDetails []struct {
			Name string `json:"name"`
		} `json:"branch_details"`
		SuccessRate     *float64          `json:"success_rate"`
		RecentWorkflows []json.RawMessage `json:"recent_workflows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, int64(5), st.Branches["active"])
	assert.Equal(t, int64(1), st.Branches["inactive"])
	assert.Len(t, st.BranchDetails, 6)
	require.NotNil(t, st.SuccessRate)
	assert.Zero(t, *st.SuccessRate, "no workflow has finished")
	assert.NotNil(t, st.RecentWorkflows, "an empty list, not null")
	assert.Empty(t, st.RecentWorkflows)

	out = execute(t, append(base, "status")...)
	assert.Contains(t, out, "customer_service")
	assert.Contains(t, out, "success rate: 0.0%")

	out = execute(t, append(base, "logs", "tail", "--limit", "5")...)
	assert.Contains(t, out, "ledger")

	out = execute(t, append(base, "--json", "metrics", "query", "--name", "kiroku.")...)
	assert.Contains(t, out, "null", "no metrics recorded yet")
}

func TestUnknownStore(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--store", "redis", "status"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}
