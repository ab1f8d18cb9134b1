package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/arbor/internal/engine"
	"github.com/roach88/arbor/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Keys     []string
	Activity string
}

// TraceLine is one tracking record.
type TraceLine struct {
	Seq      int64  `json:"seq"`
	Key      string `json:"key"`
	Context  int    `json:"context"`
	Activity string `json:"activity"`
	Status   string `json:"status"`
	Result   string `json:"result"`
	Data     string `json:"data,omitempty"`
}

// TraceStats counts record kinds in a trace.
type TraceStats struct {
	Records     int  `json:"records"`
	Transitions int  `json:"transitions"`
	Contexts    int  `json:"contexts"`
	LockWaits   int  `json:"lock_waits"`
	Complete    bool `json:"complete"`
}

// TraceResult is the output of trace.
type TraceResult struct {
	InstanceID string      `json:"instance_id"`
	Root       string      `json:"root"`
	Outcome    string      `json:"outcome,omitempty"`
	Timeline   []TraceLine `json:"timeline"`
	Stats      TraceStats  `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <instance-id>",
		Short: "Show the tracking log of an instance",
		Long: `Show the tracking log an instance wrote to the SQLite store.

Every status transition, context event, lock wait and persist point is
listed in sequence order. --key and --activity narrow the timeline; the
stats always cover the whole log.

Examples:
  arbor trace order-1 --db ./arbor.db
  arbor trace order-1 --db ./arbor.db --key status --activity reserve
  arbor trace order-1 --db ./arbor.db --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Keys, "key", nil, "only show records with this key (repeatable)")
	cmd.Flags().StringVar(&opts.Activity, "activity", "", "only show records of this activity")

	return cmd
}

func runTrace(opts *TraceOptions, instanceID string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	st, err := openLog(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	state, err := st.GetInstanceState(ctx, instanceID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read instance", err)
	}
	if state.Records == 0 {
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("no tracking records for instance %s", instanceID), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("instance not found: %s", instanceID))
	}
	records, err := st.ReadTrace(ctx, instanceID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	result := buildTrace(state, records, opts.Keys, opts.Activity)
	return f.Success(result, func(w io.Writer) { renderTrace(w, result) })
}

func buildTrace(state store.InstanceState, records []engine.TrackRecord, keys []string, activity string) TraceResult {
	result := TraceResult{
		InstanceID: state.InstanceID,
		Root:       state.Root,
		Outcome:    state.Outcome,
		Timeline:   []TraceLine{},
		Stats:      TraceStats{Records: len(records), Complete: state.IsComplete()},
	}
	for _, r := range records {
		switch r.Key {
		case "status":
			result.Stats.Transitions++
		case "context.create":
			result.Stats.Contexts++
		case "lock.wait":
			result.Stats.LockWaits++
		}
		if len(keys) > 0 && !slices.Contains(keys, r.Key) {
			continue
		}
		if activity != "" && r.Activity != activity {
			continue
		}
		result.Timeline = append(result.Timeline, TraceLine{
			Seq:      r.Seq,
			Key:      r.Key,
			Context:  r.ContextID,
			Activity: r.Activity,
			Status:   r.Status,
			Result:   r.Result,
			Data:     r.Data,
		})
	}
	return result
}

func renderTrace(w io.Writer, r TraceResult) {
	outcome := r.Outcome
	if outcome == "" {
		outcome = "incomplete"
	}
	fmt.Fprintf(w, "Instance: %s (%s, %s)\n\n", r.InstanceID, r.Root, outcome)
	for _, l := range r.Timeline {
		line := fmt.Sprintf("%4d  %-16s", l.Seq, l.Key)
		if l.Activity != "" {
			line += fmt.Sprintf(" %s@%d %s/%s", l.Activity, l.Context, l.Status, l.Result)
		}
		if l.Data != "" {
			line += "  " + l.Data
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%d records, %d transitions, %d contexts, %d lock waits\n",
		r.Stats.Records, r.Stats.Transitions, r.Stats.Contexts, r.Stats.LockWaits)
}
