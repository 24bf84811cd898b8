package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/testutil"
)

const pipeline = `
sources:
  - name: sales
    columns: [{name: category, type: str}, {name: amount, type: i64}]
    rows: [[A, 10], [B, 5], [A, 20]]
frames:
  - name: totals
    from: sales
    steps:
      - filter: {op: gt, args: [amount, {lit: 1}]}
      - group_by:
          keys: [category]
          aggs: [{agg: sum, args: [amount], as: total}, {agg: count, as: n}]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("QUANTAFRAME_LOG_LEVEL", "")
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"explain", "run", "flags", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestRunText(t *testing.T) {
	out, err := execute(t, "run", testutil.WriteFile(t, "p.yaml", pipeline))
	require.NoError(t, err)
	assert.Contains(t, out, "category | total | n")
	assert.Contains(t, out, "A        | 30    | 2")
	assert.Contains(t, out, "B        | 5     | 1")
}

func TestRunJSON(t *testing.T) {
	out, err := execute(t, "run", "--format", "json", testutil.WriteFile(t, "p.yaml", pipeline))
	require.NoError(t, err)

	var res jsonResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Columns, 3)
	assert.Equal(t, jsonColumn{Name: "total", Type: "i64"}, res.Columns[1])
	assert.Equal(t, [][]any{{"A", 30.0, 2.0}, {"B", 5.0, 1.0}}, res.Rows)
}

func TestRunLimit(t *testing.T) {
	out, err := execute(t, "run", "--format", "json", "--limit", "1", testutil.WriteFile(t, "p.yaml", pipeline))
	require.NoError(t, err)
	var res jsonResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Rows, 1)
}

func TestExplain(t *testing.T) {
	path := testutil.WriteFile(t, "p.yaml", pipeline)

	out, err := execute(t, "explain", path)
	require.NoError(t, err)
	assert.Contains(t, out, `Scan(sales) predicate=(col("amount") > 1)`)
	assert.NotContains(t, out, "Filter")

	out, err = execute(t, "explain", "--unoptimized", path)
	require.NoError(t, err)
	assert.Contains(t, out, `Filter (col("amount") > 1)`)

	out, err = execute(t, "explain", "--physical", path)
	require.NoError(t, err)
	assert.Contains(t, out, "executor: memory\n")
}

func TestExplainWithConfig(t *testing.T) {
	cfg := testutil.WriteFile(t, "config.yaml", "optimizer:\n  predicate_pushdown: false\n")
	out, err := execute(t, "--config", cfg, "explain", testutil.WriteFile(t, "p.yaml", pipeline))
	require.NoError(t, err)
	assert.Contains(t, out, "Filter")
}

func TestFlags(t *testing.T) {
	out, err := execute(t, "flags")
	require.NoError(t, err)
	assert.Contains(t, out, "asof_join")
	assert.Contains(t, out, "experimental_join_reorder")

	out, err = execute(t, "flags", "--format", "json")
	require.NoError(t, err)
	var infos []flagInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 6)
	assert.Equal(t, "asof_join", infos[0].Name)
	assert.True(t, infos[0].Enabled)
}

func TestErrors(t *testing.T) {
	_, err := execute(t, "run", "--format", "xml", testutil.WriteFile(t, "p.yaml", pipeline))
	assert.ErrorContains(t, err, "invalid format")

	_, err = execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "flags")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "QuantaFrame v0.1.0 (commit: unknown)\n", out)
}
