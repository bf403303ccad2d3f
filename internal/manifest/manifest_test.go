package manifest_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/manifest"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/ledger"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

const sample = `
branches:
  - name: marketing
    type: marketing_automation
    active: true
    config:
      channels: [email, social]
    agents:
      - name: campaign-runner
        type: campaign
        capabilities:
          max_targets: 1000
  - name: sales
    type: sales_automation
`

func TestParse(t *testing.T) {
	m, err := manifest.Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, m.Branches, 2)
	assert.Equal(t, "marketing", m.Branches[0].Name)
	assert.True(t, m.Branches[0].Active)
	require.Len(t, m.Branches[0].Agents, 1)
	assert.Equal(t, 1000, m.Branches[0].Agents[0].Capabilities["max_targets"])
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field": "branches:\n  - name: a\n    colour: red\n",
		"missing name":  "branches:\n  - type: x\n",
		"duplicate":     "branches:\n  - name: a\n  - name: a\n",
		"agent name":    "branches:\n  - name: a\n    agents:\n      - type: x\n",
	} {
		_, err := manifest.Parse(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(testutil.NewSQLite(t), ledger.Options{}, testutil.TestLogger())
	m, err := manifest.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	res, err := manifest.Import(ctx, svc, m, testutil.TestLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"marketing", "sales"}, res.Registered)
	assert.Equal(t, 1, res.Agents)

	branches, err := svc.ListBranches(ctx, model.BranchFilter{})
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, model.BranchActive, branches[0].Status)
	assert.JSONEq(t, `{"channels":["email","social"]}`, string(branches[0].Config))
	assert.Equal(t, model.BranchInactive, branches[1].Status)

	again, err := manifest.Import(ctx, svc, m, testutil.TestLogger())
	require.NoError(t, err)
	assert.Empty(t, again.Registered)
	assert.Equal(t, []string{"marketing", "sales"}, again.Skipped)
	assert.Zero(t, again.Agents)
}

func TestShippedManifest(t *testing.T) {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	path := filepath.Join(filepath.Dir(file), "..", "..", "examples", "branches.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("examples/branches.yaml not found: %v", err)
	}
	m, err := manifest.Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Branches, 6)
}
