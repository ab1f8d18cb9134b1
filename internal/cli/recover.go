package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/arbor/internal/store"
)

// InstanceSummary is the recovery view of one instance.
type InstanceSummary struct {
	InstanceID   string `json:"instance_id"`
	Root         string `json:"root"`
	LastSeq      int64  `json:"last_seq"`
	Records      int    `json:"records"`
	OpenContexts int    `json:"open_contexts"`
	Persisted    bool   `json:"persisted"`
	Outcome      string `json:"outcome,omitempty"`
	Result       string `json:"result,omitempty"`
	Failure      string `json:"failure,omitempty"`
}

// RecoverResult is the output of recover.
type RecoverResult struct {
	Instances []InstanceSummary `json:"instances"`
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover [instance-id]",
		Short: "Find instances that did not finish",
		Long: `List instances whose tracking log has no final outcome.

An instance is finished once its root recorded a committed Closed status or
it was terminated. Unfinished instances were interrupted, suspended or are
waiting on a signal; the summary shows how far each got, whether a snapshot
was persisted and how many completed contexts are still saved for it.

With an instance id, the summary of that instance is shown whether or not
it finished.

Examples:
  arbor recover --db ./arbor.db
  arbor recover order-1 --db ./arbor.db --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(rootOpts, args, cmd)
		},
	}
}

func runRecover(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	st, err := openLog(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	var states []store.InstanceState
	if len(args) == 1 {
		state, err := st.GetInstanceState(ctx, args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read instance", err)
		}
		if state.Records == 0 {
			_ = f.Error(ErrCodeNotFound, fmt.Sprintf("no tracking records for instance %s", args[0]), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("instance not found: %s", args[0]))
		}
		states = append(states, state)
	} else {
		states, err = st.FindIncompleteInstances(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to scan instances", err)
		}
	}

	result := RecoverResult{Instances: make([]InstanceSummary, len(states))}
	for i, s := range states {
		result.Instances[i] = InstanceSummary{
			InstanceID:   s.InstanceID,
			Root:         s.Root,
			LastSeq:      s.LastSeq,
			Records:      s.Records,
			OpenContexts: s.OpenContexts,
			Persisted:    s.Persisted,
			Outcome:      s.Outcome,
			Result:       s.Result,
			Failure:      s.Failure,
		}
	}
	return f.Success(result, func(w io.Writer) { renderRecover(w, result) })
}

func renderRecover(w io.Writer, r RecoverResult) {
	if len(r.Instances) == 0 {
		fmt.Fprintln(w, "No unfinished instances.")
		return
	}
	for _, s := range r.Instances {
		outcome := s.Outcome
		if outcome == "" {
			outcome = "incomplete"
		}
		fmt.Fprintf(w, "%s  root=%s  %s", s.InstanceID, s.Root, outcome)
		if s.Result != "" {
			fmt.Fprintf(w, "/%s", s.Result)
		}
		fmt.Fprintf(w, "  seq=%d  contexts=%d  persisted=%t\n", s.LastSeq, s.OpenContexts, s.Persisted)
		if s.Failure != "" {
			fmt.Fprintf(w, "    failure: %s\n", s.Failure)
		}
	}
}
