package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/config"
	"ragchat/internal/domain"
)

const fixturePassages = `passages:
  - chunk: Food delivery revenue was 1,200 crore in the quarter.
    relative_path: report.pdf
    segment: Food Delivery
    metric_type: Revenue
  - chunk: Quick commerce GOV doubled year on year.
    relative_path: deck.pptx
    segment: Quick Commerce
    metric_type: GOV
`

func writeOfflineConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	passages := filepath.Join(dir, "passages.yaml")
	require.NoError(t, os.WriteFile(passages, []byte(fixturePassages), 0o644))

	cfg := config.Default()
	cfg.Search.Memory.PassagesFile = passages
	cfg.Catalog.Static.Root = dir
	cfg.Logging.File = filepath.Join(dir, "ragchat.log")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func TestBuildApp_Offline(t *testing.T) {
	loaded, err := config.Load(writeOfflineConfig(t))
	require.NoError(t, err)

	a, err := buildApp(loaded, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Food Delivery", "Quick Commerce"}, a.choices.Segments)
	assert.Equal(t, []string{"Revenue", "GOV"}, a.choices.Metrics)

	docs, err := a.catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "report.pdf", docs[0].Path)

	vals, err := a.catalog.DistinctValues(context.Background(), domain.FieldSegment)
	require.NoError(t, err)
	assert.Len(t, vals, 2)

	ctl := a.newSession()
	require.NoError(t, ctl.SelectSegment("Food Delivery"))
	res, err := ctl.Run(context.Background(), "What was food delivery revenue?")
	require.NoError(t, err)
	assert.Equal(t, []string{"report.pdf"}, res.Sources)
	assert.Contains(t, res.Answer, "1,200 crore")
	assert.Len(t, ctl.Snapshot().Turns, 2)
}

func TestBuildApp_BadPassages(t *testing.T) {
	cfg := config.Default()
	cfg.Search.Memory.PassagesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := buildApp(cfg, nil)
	assert.ErrorContains(t, err, "memory search init failed")
}

func TestAskCommand(t *testing.T) {
	path := writeOfflineConfig(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", path, "ask", "--metric", "GOV", "How", "did", "GOV", "grow?"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		askMetric = ""
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Quick commerce GOV doubled year on year.")
	assert.Contains(t, out.String(), "Sources:")
	assert.Contains(t, out.String(), "deck.pptx")
	assert.Contains(t, out.String(), "file://")
}

func TestAskCommand_UnknownSegment(t *testing.T) {
	path := writeOfflineConfig(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", path, "ask", "--segment", "Ads", "q"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		askSegment = ""
	})
	assert.Error(t, rootCmd.Execute())
}

func TestServeMetricsDisabled(t *testing.T) {
	stop := serveMetrics("", nil)
	stop()
}
