// Package limit evaluates screen-time limits for an origin against the
// day's usage using OPA policies.
package limit

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

const decisionQuery = "data.zen.limits.decision"

//go:embed policies/limits.rego
var defaultPolicy string

// Input is the document a policy sees as input.
type Input struct {
	Origin       string          `json:"origin"`
	Host         string          `json:"host"`
	UsageSeconds float64         `json:"usage_seconds"`
	Limits       []storage.Limit `json:"limits"`
}

// Decision is the policy verdict for one origin.
type Decision struct {
	Limited          bool     `json:"limited"`
	Exceeded         bool     `json:"exceeded"`
	AllowedSeconds   float64  `json:"allowed_seconds"`
	RemainingSeconds float64  `json:"remaining_seconds"`
	Matched          []uint64 `json:"matched"`
}

// Engine wraps OPA rego engine for limit evaluation
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu      sync.RWMutex
	query   rego.PreparedEvalQuery
	modules map[string]string // file name -> source
}

// NewEngine creates an engine from the *.rego files in policyDir, or from the
// built-in policy when policyDir is empty.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.load(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "builtin"
	}
	e.logger.Info().Str("policy_dir", source).Msg("OPA engine initialized")

	return e, nil
}

func (e *Engine) load() error {
	modules, err := e.readPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	query, err := prepare(modules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.modules = modules
	e.query = query
	e.mu.Unlock()
	return nil
}

// readPolicies reads and parses every policy file so that syntax errors are
// reported per file.
func (e *Engine) readPolicies() (map[string]string, error) {
	if e.policyDir == "" {
		return map[string]string{"limits.rego": defaultPolicy}, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	modules := make(map[string]string, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		modules[file] = string(content)
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}
	return modules, nil
}

func prepare(modules map[string]string) (rego.PreparedEvalQuery, error) {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for _, name := range names {
		opts = append(opts, rego.Module(name, modules[name]))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare limit query: %w", err)
	}
	return query, nil
}

// Evaluate runs the decision query for input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	if input.Limits == nil {
		input.Limits = []storage.Limit{}
	}

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	startTime := time.Now()
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("limit query evaluation failed: %w", err)
	}
	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Str("host", input.Host).Msg("Limit query evaluated")

	if len(results) == 0 {
		return nil, fmt.Errorf("no results from limit query")
	}
	if len(results[0].Expressions) == 0 {
		return nil, fmt.Errorf("no expressions in limit query result")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal limit decision: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal limit decision: %w", err)
	}
	return &decision, nil
}

// Policies returns the names of the loaded policy files.
func (e *Engine) Policies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.modules))
	for name := range e.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload reloads all policies. The previous policies stay active if the new
// ones fail to load.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading OPA policies")
	if err := e.load(); err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	e.logger.Info().Msg("OPA policies reloaded successfully")
	return nil
}
