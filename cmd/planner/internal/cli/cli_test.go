package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/hybridplanner/internal/config"
	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/endpoint"
	"github.com/example/hybridplanner/internal/storage"
)

const weatherDomains = `
domains:
  - id: weather
    operators:
      - name: get_weather
        params: [city]
        effects: [weather_known]
        cost: 1
        duration: 1s
`

func writeFixtures(t *testing.T) (cfgPath, domainsPath string) {
	t.Helper()
	dir := t.TempDir()
	domainsPath = filepath.Join(dir, "domains.yaml")
	require.NoError(t, os.WriteFile(domainsPath, []byte(weatherDomains), 0o644))

	cfgPath = filepath.Join(dir, "planner.yaml")
	cfg := `
database:
  path: ` + filepath.Join(dir, "planner.db") + `
domains:
  file: ` + domainsPath + `
logging:
  level: error
tracing:
  enabled: true
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, domainsPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		planDomain, planLineage, planRemote, planContext, versionsJSON = "", "", "", nil, false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlanAndVersionsCommands(t *testing.T) {
	cfgPath, _ := writeFixtures(t)

	out, err := execute(t, "plan", "--config", cfgPath, "--domain", "weather", "get weather for city oslo")
	require.NoError(t, err)

	var resp endpoint.PlanResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.NotNil(t, resp.Plan)
	require.Len(t, resp.Plan.Tasks, 1)
	assert.Equal(t, "get_weather", resp.Plan.Tasks[0].Name)
	assert.Equal(t, int64(1), resp.Plan.Version)

	out, err = execute(t, "plan", "--config", cfgPath, "--lineage", resp.Plan.LineageID, "get weather for city bergen")
	require.NoError(t, err)
	var replanned endpoint.PlanResponse
	require.NoError(t, json.Unmarshal([]byte(out), &replanned), out)
	assert.Equal(t, int64(2), replanned.Plan.Version)

	out, err = execute(t, "versions", "--config", cfgPath, "--json", resp.Plan.LineageID)
	require.NoError(t, err)
	var versions []storage.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &versions), out)
	require.Len(t, versions, 2)
	assert.Equal(t, resp.Plan.ID, versions[0].PlanID)

	out, err = execute(t, "versions", "--config", cfgPath, resp.Plan.LineageID)
	require.NoError(t, err)
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, replanned.Plan.ID)
}

func TestPlanCommand_Errors(t *testing.T) {
	cfgPath, _ := writeFixtures(t)

	_, err := execute(t, "plan", "--config", cfgPath, "get weather")
	assert.ErrorContains(t, err, "--domain is required")

	_, err = execute(t, "plan", "--config", cfgPath, "--domain", "weather", "--context", "novalue", "get weather")
	assert.ErrorContains(t, err, "key=value")

	_, err = execute(t, "plan", "--config", cfgPath, "--domain", "mars", "get weather")
	assert.ErrorContains(t, err, "UnknownDomain")
}

func TestDomainsCommand(t *testing.T) {
	_, domainsPath := writeFixtures(t)

	out, err := execute(t, "domains", domainsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "weather (version")
	assert.Contains(t, out, "get_weather")

	_, err = execute(t, "domains", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewGenerator(t *testing.T) {
	gen, err := newGenerator(config.DecomposerConfig{Provider: "template"})
	require.NoError(t, err)
	assert.IsType(t, &decomposer.TemplateGenerator{}, gen)

	gen, err = newGenerator(config.DecomposerConfig{Provider: "ollama", Model: "llama3", BaseURL: "http://127.0.0.1:11434"})
	require.NoError(t, err)
	assert.IsType(t, &decomposer.LLMGenerator{}, gen)

	_, err = newGenerator(config.DecomposerConfig{Provider: "gpt"})
	assert.Error(t, err)
}

func TestNewApp(t *testing.T) {
	cfgPath, _ := writeFixtures(t)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	assert.NotNil(t, a.tracing)
	assert.NotNil(t, a.recorder)
	assert.Equal(t, []string{"weather"}, a.catalog.IDs())
	a.Close(context.Background())

	cfg.Domains.File = ""
	_, err = newApp(context.Background(), cfg, io.Discard)
	assert.ErrorContains(t, err, "domains.file")
}
