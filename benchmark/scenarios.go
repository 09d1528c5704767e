package benchmark

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-helmet/detector"
)

// ScenarioBuilder helps build test scenarios with fluent API
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			Backend:    detector.BackendGreedy,
			Resolution: CommonResolutions[0],
			Iterations: 100,
			WarmupRuns: 10,
		},
	}
}

// WithBackend sets the suppression backend
func (sb *ScenarioBuilder) WithBackend(backend detector.Backend) *ScenarioBuilder {
	sb.scenario.Backend = backend
	return sb
}

// WithResolution sets the frame resolution
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.Resolution = NewResolution(width, height)
	return sb
}

// WithIterations sets the number of test iterations
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of warmup runs
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// Build returns the configured test scenario
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ScenarioSet represents a collection of related test scenarios
type ScenarioSet struct {
	Name        string     `json:"name"        yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Scenarios   []Scenario `json:"scenarios"   yaml:"scenarios"`
}

// BackendComparisonScenarios runs every suppression backend at one resolution.
//
// Arguments:
//   - resolution: The frame resolution.
//   - iterations: Timed iterations per scenario.
//
// Returns:
//   - *ScenarioSet: One scenario per backend.
func BackendComparisonScenarios(resolution Resolution, iterations int) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(detector.Backends))
	for _, backend := range detector.Backends {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("backend_%s_%s", backend, resolution.Name)).
			WithBackend(backend).
			WithResolution(resolution.Width, resolution.Height).
			WithIterations(iterations).
			Build())
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Backend Comparison @ %s", resolution.Name),
		Description: "Compares the suppression backends on the same frames",
		Scenarios:   scenarios,
	}
}

// ResolutionComparisonScenarios runs one backend over CommonResolutions.
func ResolutionComparisonScenarios(backend detector.Backend, iterations int) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(CommonResolutions))
	for _, resolution := range CommonResolutions {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("resolution_%s_%s", backend, resolution.Name)).
			WithBackend(backend).
			WithResolution(resolution.Width, resolution.Height).
			WithIterations(iterations).
			Build())
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Resolution Comparison - %s", backend),
		Description: "Compares frame resolutions with the same backend",
		Scenarios:   scenarios,
	}
}

// SaveScenarioSet saves a scenario set to a YAML file
func SaveScenarioSet(scenarioSet *ScenarioSet, filename string) error {
	data, err := yaml.Marshal(scenarioSet)
	if err != nil {
		return errors.Wrap(err, "marshal scenario set")
	}
	return errors.Wrap(os.WriteFile(filename, data, 0o644), "write scenario file")
}

// LoadScenarioSet loads a scenario set from a YAML file
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario file")
	}

	var scenarioSet ScenarioSet
	if err := yaml.Unmarshal(data, &scenarioSet); err != nil {
		return nil, errors.Wrap(err, "unmarshal scenario set")
	}

	return &scenarioSet, nil
}
