package limit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goodtune/zen/internal/storage"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine("", zerolog.Nop())
	require.NoError(t, err)
	return engine
}

func TestBuiltinPolicyParses(t *testing.T) {
	module, err := ast.ParseModule("limits.rego", defaultPolicy)
	require.NoError(t, err)
	require.Equal(t, "data.zen.limits", module.Package.Path.String())

	engine, err := NewEngine("", zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{"limits.rego"}, engine.Policies())
}

func TestEngineDecisions(t *testing.T) {
	engine := newTestEngine(t)
	limits := []storage.Limit{
		{ID: 1, Pattern: "youtube.com", Minutes: 60},
		{ID: 2, Pattern: "*.reddit.com", Minutes: 15},
		{ID: 3, Pattern: "m.youtube.com", Minutes: 30},
	}

	tests := []struct {
		name          string
		host          string
		usage         float64
		wantLimited   bool
		wantExceeded  bool
		wantAllowed   float64
		wantRemaining float64
		wantMatched   []uint64
	}{
		{name: "no matching limit", host: "example.com", usage: 5000},
		{name: "exact host under limit", host: "youtube.com", usage: 600, wantLimited: true, wantAllowed: 3600, wantRemaining: 3000, wantMatched: []uint64{1}},
		{name: "subdomain over limit", host: "www.youtube.com", usage: 3600, wantLimited: true, wantExceeded: true, wantAllowed: 3600, wantRemaining: 0, wantMatched: []uint64{1}},
		{name: "strictest limit wins", host: "m.youtube.com", usage: 1900, wantLimited: true, wantExceeded: true, wantAllowed: 1800, wantRemaining: 0, wantMatched: []uint64{1, 3}},
		{name: "glob pattern", host: "old.reddit.com", usage: 60, wantLimited: true, wantAllowed: 900, wantRemaining: 840, wantMatched: []uint64{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Evaluate(context.Background(), Input{
				Origin:       "https://" + tt.host,
				Host:         tt.host,
				UsageSeconds: tt.usage,
				Limits:       limits,
			})
			require.NoError(t, err)
			require.Equal(t, tt.wantLimited, decision.Limited)
			require.Equal(t, tt.wantExceeded, decision.Exceeded)
			require.InDelta(t, tt.wantAllowed, decision.AllowedSeconds, 0.001)
			require.InDelta(t, tt.wantRemaining, decision.RemainingSeconds, 0.001)
			if tt.wantMatched == nil {
				require.Empty(t, decision.Matched)
			} else {
				require.Equal(t, tt.wantMatched, decision.Matched)
			}
		})
	}
}

func TestEngineWithoutLimits(t *testing.T) {
	engine := newTestEngine(t)
	decision, err := engine.Evaluate(context.Background(), Input{Origin: "https://a.example", Host: "a.example"})
	require.NoError(t, err)
	require.False(t, decision.Limited)
}

func TestEngineLoadsPolicyDir(t *testing.T) {
	dir := t.TempDir()
	policy := `package zen.limits

import rego.v1

decision := {"limited": true, "exceeded": true, "allowed_seconds": 0, "remaining_seconds": 0, "matched": []}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strict.rego"), []byte(policy), 0o644))

	engine, err := NewEngine(dir, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "strict.rego")}, engine.Policies())

	decision, err := engine.Evaluate(context.Background(), Input{Host: "anything.example"})
	require.NoError(t, err)
	require.True(t, decision.Exceeded)
}

func TestEngineRejectsBrokenPolicy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package zen.limits\n\ndecision := {"), 0o644))

	_, err := NewEngine(dir, zerolog.Nop())
	require.Error(t, err)

	_, err = NewEngine(t.TempDir(), zerolog.Nop())
	require.Error(t, err, "an empty policy directory is an error")
}

// TestReloadThreadSafety checks that reloads do not race with evaluations.
func TestReloadThreadSafety(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "limits.rego"), []byte(defaultPolicy), 0o644))
	engine, err := NewEngine(dir, zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = engine.Evaluate(context.Background(), Input{Host: "youtube.com", Limits: []storage.Limit{{ID: 1, Pattern: "youtube.com", Minutes: 1}}})
			}
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, engine.Reload())
	}
	wg.Wait()
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"https://www.Example.com":      "www.example.com",
		"http://localhost:8080":        "localhost",
		"example.org":                  "example.org",
		"example.org:443/path":         "example.org",
		"chrome-extension://abcdefghi": "abcdefghi",
	}
	for origin, want := range tests {
		require.Equal(t, want, HostOf(origin), origin)
	}
}
