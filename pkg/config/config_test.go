package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
environment: test
sources:
  - name: fred
    type: fred
    api_key: k
  - name: cboe
    type: httpjson
    url: https://example.com/{symbol}.json
    value_path: data.close
    cache_ttl: 1h
indicators:
  - id: vix
    source: cboe
    symbol: VIX
    direction: higher_is_risk_off
    threshold: 20
  - id: dgs2
    source: fred
    symbol: DGS2
    direction: higher_is_risk_off
  - id: dgs10
    source: fred
    symbol: DGS10
    direction: higher_is_risk_on
  - id: curve
    source: derived
    inputs: [dgs10, dgs2]
    op: diff
    direction: higher_is_risk_on
fallback:
  seeds:
    vix: 18.5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 3, c.Retry.Attempts)
	assert.Equal(t, 10*time.Second, c.Retry.AttemptTimeout)
	assert.Equal(t, 30*time.Second, c.Cycle.Deadline)
	assert.Equal(t, "risk_off", c.Consensus.TieBreak)
	assert.Equal(t, 1, c.Consensus.MinVoters)
	assert.Equal(t, "memory", c.Fallback.Backend)
	assert.Equal(t, 10*time.Second, c.Sources[0].Timeout)
	assert.Equal(t, time.Hour, c.Sources[1].CacheTTL)
	assert.Equal(t, []string{"fred", "cboe"}, c.SourceNames())
	assert.InDelta(t, 18.5, c.Fallback.Seeds["vix"], 1e-9)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("MACROPULSE_CYCLE_WORKERS", "3")
	t.Setenv("MACROPULSE_CYCLE_DEADLINE", "12s")

	c, err := LoadWithEnv(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 3, c.Cycle.Workers)
	assert.Equal(t, 12*time.Second, c.Cycle.Deadline)
}

func TestFREDKeyFromEnv(t *testing.T) {
	body := `
sources:
  - name: fred
    type: fred
indicators:
  - id: dgs2
    source: fred
    direction: higher_is_risk_off
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)

	t.Setenv("FRED_API_KEY", "secret")
	c, err := LoadWithEnv(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "secret", c.Sources[0].APIKey)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown source": `
indicators:
  - id: a
    source: nope
    direction: higher_is_risk_on
`,
		"bad direction": `
sources: [{name: s, type: static}]
indicators:
  - id: a
    source: s
    direction: sideways
`,
		"duplicate id": `
sources: [{name: s, type: static}]
indicators:
  - {id: a, source: s, direction: higher_is_risk_on}
  - {id: a, source: s, direction: higher_is_risk_on}
`,
		"derived of derived": `
sources: [{name: s, type: static}]
indicators:
  - {id: a, source: s, direction: higher_is_risk_on}
  - {id: b, source: s, direction: higher_is_risk_on}
  - {id: c, source: derived, inputs: [a, b], op: diff, direction: higher_is_risk_on}
  - {id: d, source: derived, inputs: [a, c], op: diff, direction: higher_is_risk_on}
`,
		"no indicators": `
sources: [{name: s, type: static}]
`,
		"seed for unknown": `
sources: [{name: s, type: static}]
indicators:
  - {id: a, source: s, direction: higher_is_risk_on}
fallback:
  seeds: {b: 1}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := Parse([]byte(body))
			require.NoError(t, err)
			assert.Error(t, c.Validate())
		})
	}
}
