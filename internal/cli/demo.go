package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avasker/keel"
	"github.com/avasker/keel/history"
)

// demoState is the state of the built-in demo store.
type demoState struct {
	Count     int    `json:"count" yaml:"count"`
	LastQuery string `json:"last_query,omitempty" yaml:"last_query,omitempty"`
	Hits      int    `json:"hits" yaml:"hits"`
	Stats     int    `json:"stats" yaml:"stats"`
	Badge     string `json:"badge,omitempty" yaml:"badge,omitempty"`
}

// Demo intents. Search results and refresh payloads arrive as feedback
// intents from effects, never from the reducer itself.
type (
	incrementIntent struct {
		By int `json:"by"`
	}
	searchIntent struct {
		Query string `json:"query"`
	}
	searchDoneIntent struct {
		Query string `json:"query"`
		Hits  int    `json:"hits"`
	}
	refreshIntent struct{}
	statsIntent   struct {
		Total int `json:"total"`
	}
	badgeIntent struct {
		Name string `json:"name"`
	}
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Database   string
	MaxHistory int
	Debounce   time.Duration
}

// DemoResult is the structured output of a demo run.
type DemoResult struct {
	FinalState demoState      `json:"final_state" yaml:"final_state"`
	History    []demoSnapshot `json:"history" yaml:"history"`
	Current    int            `json:"current_index" yaml:"current_index"`
}

// demoSnapshot is the display form of a history entry.
type demoSnapshot struct {
	Index  int       `json:"index" yaml:"index"`
	ID     string    `json:"id" yaml:"id"`
	Intent any       `json:"intent,omitempty" yaml:"intent,omitempty"`
	State  demoState `json:"state" yaml:"state"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in counter store",
		Long: `Run a small counter store through a scripted flow and print the
resulting history timeline.

The flow exercises the whole pipeline: plain reductions, a debounced
search effect whose rapid-fire triggers coalesce into one execution,
and a restore that rewinds the store to an earlier snapshot.

Examples:
  keel demo
  keel demo --db ./keel.db
  keel demo --format json --max-history 10`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist history to this SQLite database")
	cmd.Flags().IntVar(&opts.MaxHistory, "max-history", history.DefaultMaxSize, "maximum history entries")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 50*time.Millisecond, "search debounce delay")

	return cmd
}

func demoReducer(state demoState, intent keel.Intent) demoState {
	switch in := intent.(type) {
	case incrementIntent:
		state.Count += in.By
	case searchIntent:
		state.LastQuery = in.Query
	case searchDoneIntent:
		if in.Query == state.LastQuery {
			state.Hits = in.Hits
		}
	case statsIntent:
		state.Stats = in.Total
	case badgeIntent:
		state.Badge = in.Name
	}
	return state
}

// demoEffects maps searches to a debounced lookup and refreshes to a
// parallel fan-out. The debounced lookup observes the state current at
// execution time, so coalesced triggers resolve against the final query.
func demoEffects(delay time.Duration) keel.EffectMap[demoState] {
	return func(intent keel.Intent) keel.Effect[demoState] {
		switch intent.(type) {
		case searchIntent:
			return keel.Debounce("demo-search", delay, keel.EffectOf(
				func(ctx context.Context, state demoState, intent keel.Intent) keel.Intent {
					return searchDoneIntent{Query: state.LastQuery, Hits: len(state.LastQuery)}
				}))

		case refreshIntent:
			return keel.Parallel(
				keel.EffectOf(func(_ context.Context, state demoState, _ keel.Intent) keel.Intent {
					return statsIntent{Total: state.Count * 10}
				}),
				keel.EffectOf(func(context.Context, demoState, keel.Intent) keel.Intent {
					return badgeIntent{Name: "explorer"}
				}),
			)

		default:
			return nil
		}
	}
}

func runDemo(opts *DemoOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	histOpts := []history.LogOption[demoState]{
		history.WithMaxSize[demoState](opts.MaxHistory),
	}

	var storage *history.SQLiteStorage[demoState]
	if opts.Database != "" {
		st, err := history.OpenSQLite[demoState](opts.Database, nil)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		storage = st
		histOpts = append(histOpts, history.WithStorage[demoState](st))
	}
	log := history.NewLog(histOpts...)

	store := keel.New(demoState{}, demoReducer,
		keel.WithEffects[demoState](demoEffects(opts.Debounce)),
		keel.WithMiddleware[demoState](log),
	)
	defer store.Close()

	// Scripted flow: count up, fire a burst of searches that the debounce
	// coalesces, fan out a refresh, then rewind one step.
	script := []keel.Intent{
		incrementIntent{By: 1},
		incrementIntent{By: 2},
		searchIntent{Query: "k"},
		searchIntent{Query: "ke"},
		searchIntent{Query: "keel"},
		incrementIntent{By: 3},
		refreshIntent{},
	}
	for _, intent := range script {
		if !store.Dispatch(intent) {
			return WrapExitError(ExitFailure, "dispatch rejected", nil)
		}
	}

	// Wait out the debounce window plus the feedback reduction.
	time.Sleep(opts.Debounce + 20*time.Millisecond)
	quiesceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Quiesce(quiesceCtx); err != nil {
		return WrapExitError(ExitFailure, "store did not settle", err)
	}

	// Rewind past the search result, to the snapshot where the refresh
	// fan-out had landed but the debounced lookup had not yet resolved.
	if n := log.Len(); n >= 2 {
		if !log.RestoreStateAt(n-2, store.RestoreState) {
			return WrapExitError(ExitFailure, "restore failed", nil)
		}
	}

	if storage != nil {
		if err := log.Save(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to persist history", err)
		}
	}

	result := DemoResult{
		FinalState: store.State(),
		Current:    log.CurrentIndex(),
	}
	for _, snap := range log.History() {
		result.History = append(result.History, demoSnapshot{
			Index:  snap.Index,
			ID:     snap.ID,
			Intent: snap.Intent,
			State:  snap.State,
		})
	}

	if opts.Format != "text" {
		return writeStructured(cmd.OutOrStdout(), opts.Format, result)
	}
	return outputDemoText(cmd, result, opts.Verbose)
}

func outputDemoText(cmd *cobra.Command, result DemoResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "=== History ===")
	for _, snap := range result.History {
		marker := " "
		if snap.Index == result.Current {
			marker = "*"
		}
		intent := "(root)"
		if snap.Intent != nil {
			intent = fmt.Sprintf("%+v", snap.Intent)
		}
		fmt.Fprintf(w, "%s [%d] %s -> count=%d hits=%d\n",
			marker, snap.Index, intent, snap.State.Count, snap.State.Hits)
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", truncateID(snap.ID))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Final State ===")
	fmt.Fprintf(w, "  Count:      %d\n", result.FinalState.Count)
	fmt.Fprintf(w, "  Last Query: %s\n", result.FinalState.LastQuery)
	fmt.Fprintf(w, "  Hits:       %d\n", result.FinalState.Hits)
	fmt.Fprintf(w, "  Stats:      %d\n", result.FinalState.Stats)
	fmt.Fprintf(w, "  Badge:      %s\n", result.FinalState.Badge)
	return nil
}
