// Package planner implements the behavioral budget distribution engine:
// behavior-adjusted category weights spread over the days of a month under
// weekday bias curves and per-category cooldowns. Every function here is a
// pure transformation of its inputs; persistence and transport belong to
// the surrounding collaborators.
package planner

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/weaver/internal/domain"
)

// Registry holds compiled plan configurations and supports hot reload.
type Registry struct {
	mu      sync.RWMutex
	env     *cel.Env
	configs map[string]*CompiledConfig
}

// CompiledConfig is a validated plan config with its bias table built and
// all behavior guards pre-compiled.
type CompiledConfig struct {
	Config *domain.PlanConfig
	Bias   *BiasTable

	boosts map[string]compiledBoost
}

type compiledBoost struct {
	boost domain.BehaviorBoost
	guard cel.Program // nil when the boost has no guard
}

// DefaultConfigID is used when a planning request does not name a config.
const DefaultConfigID = "default"

// NewRegistry creates a registry with a CEL environment exposing the
// behavior profile fields to guard expressions.
func NewRegistry() (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("behavior", cel.StringType),
		cel.Variable("region", cel.StringType),
		cel.Variable("income", cel.DoubleType),
		cel.Variable("categories", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Registry{
		env:     env,
		configs: make(map[string]*CompiledConfig),
	}, nil
}

// ValidateConfig compiles and validates a config without loading it.
func (r *Registry) ValidateConfig(cfg *domain.PlanConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: plan config is required", ErrConfiguration)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, err := r.compileConfig(cfg)
	return err
}

// LoadConfig compiles and loads a plan config into the registry.
func (r *Registry) LoadConfig(cfg *domain.PlanConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	compiled, err := r.compileConfig(cfg)
	if err != nil {
		return err
	}

	r.configs[cfg.ID] = compiled

	return nil
}

// LoadConfigs compiles and loads multiple configs, skipping disabled ones.
func (r *Registry) LoadConfigs(configs []*domain.PlanConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := r.LoadConfig(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadConfigs replaces all loaded configs with the given set.
// This enables hot-reloading of plan configs from the database.
func (r *Registry) ReloadConfigs(configs []*domain.PlanConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*CompiledConfig)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := r.compileConfig(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	r.configs = next

	return nil
}

// Get returns the compiled config with the given ID.
func (r *Registry) Get(configID string) (*CompiledConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.configs[configID]
	return c, ok
}

// GetLoadedConfigs returns the currently loaded plan configurations.
func (r *Registry) GetLoadedConfigs() []*domain.PlanConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]*domain.PlanConfig, 0, len(r.configs))
	for _, compiled := range r.configs {
		configs = append(configs, compiled.Config)
	}
	return configs
}

// Count returns the number of loaded configs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// Close cleans up the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = make(map[string]*CompiledConfig)
	return nil
}

func (r *Registry) compileConfig(cfg *domain.PlanConfig) (*CompiledConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	compiled := &CompiledConfig{
		Config: cfg,
		Bias:   NewBiasTable(cfg),
		boosts: make(map[string]compiledBoost, len(cfg.Behaviors)),
	}

	for label, boost := range cfg.Behaviors {
		cb := compiledBoost{boost: boost}

		if boost.Guard != "" {
			program, err := r.compileGuard(cfg.ID, label, boost.Guard)
			if err != nil {
				return nil, err
			}
			cb.guard = program
		}

		compiled.boosts[label] = cb
	}

	return compiled, nil
}

func (r *Registry) compileGuard(configID, label, expr string) (cel.Program, error) {
	ast, issues := r.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: config %s behavior %q: failed to compile guard: %v",
			ErrConfiguration, configID, label, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: config %s behavior %q: guard must return bool, got %s",
			ErrConfiguration, configID, label, ast.OutputType())
	}

	program, err := r.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: config %s behavior %q: failed to create guard program: %v",
			ErrConfiguration, configID, label, err)
	}

	return program, nil
}

// guardAllows evaluates a compiled guard against a profile. A boost with no
// guard always applies; a guard that errors withholds the boost.
func guardAllows(guard cel.Program, profile *domain.BehaviorProfile) bool {
	if guard == nil {
		return true
	}

	categories := profile.Categories
	if categories == nil {
		categories = []string{}
	}

	out, _, err := guard.Eval(map[string]any{
		"behavior":   profile.Behavior,
		"region":     profile.Region,
		"income":     profile.Income,
		"categories": categories,
	})
	if err != nil {
		return false
	}

	allowed, ok := out.(types.Bool)
	return ok && bool(allowed)
}
