package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/sebdah/goldie/v2"
	"gopkg.in/yaml.v3"

	"github.com/avasker/keel/internal/canon"
)

// TraceSnapshot is the serialized form of a scenario run, canonical JSON
// for deterministic golden comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name" yaml:"scenario_name"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Trace        []TraceEvent `json:"trace" yaml:"trace"`
	FinalState   any          `json:"final_state" yaml:"final_state"`
}

// RunWithGolden executes the scenario and compares its trace snapshot
// against testdata/golden/{Name}.golden. Regenerate golden files with:
//
//	go test ./harness -update
//
// Returns the run result for further assertions; the golden mismatch
// itself fails t via goldie.
func RunWithGolden[S any](t *testing.T, scenario *Scenario[S]) (*Result[S], error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := marshalCanonicalTrace(scenario, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}

// TraceHash returns the domain-separated hash of a run's canonical trace,
// for quick regression comparison without golden files.
func TraceHash[S any](scenario *Scenario[S], result *Result[S]) (string, error) {
	data, err := marshalCanonicalTrace(scenario, result)
	if err != nil {
		return "", err
	}
	return canon.HashWithDomain(canon.DomainTrace, data), nil
}

// WriteTraceYAML dumps a run's trace snapshot as YAML, for humans diffing
// scenario behavior.
func WriteTraceYAML[S any](w io.Writer, scenario *Scenario[S], result *Result[S]) error {
	snap := TraceSnapshot{
		ScenarioName: scenario.Name,
		Description:  scenario.Description,
		Trace:        result.Trace,
		FinalState:   result.FinalState,
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("harness: marshal trace yaml: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func marshalCanonicalTrace[S any](scenario *Scenario[S], result *Result[S]) ([]byte, error) {
	snap := TraceSnapshot{
		ScenarioName: scenario.Name,
		Description:  scenario.Description,
		Trace:        result.Trace,
		FinalState:   result.FinalState,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("harness: marshal trace: %w", err)
	}
	data, err := canon.CanonicalizeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("harness: canonicalize trace: %w", err)
	}
	return data, nil
}
