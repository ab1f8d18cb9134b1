package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/roach88/arbor/internal/compiler"
)

// TreeOptions holds flags for the tree command.
type TreeOptions struct {
	*RootOptions
	Workflow string
	Instance string
}

// TreeNode is the JSON form of a rendered node.
type TreeNode struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind"`
	Flags    []string    `json:"flags,omitempty"`
	Status   string      `json:"status,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// NewTreeCommand creates the tree command.
func NewTreeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TreeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tree <definitions>",
		Short: "Print the activity tree of a workflow",
		Long: `Print the activity tree of a workflow definition.

With --instance, each node is annotated with the last status recorded for
it in the tracking log of that instance (requires --db).

Examples:
  arbor tree ./defs/order.cue
  arbor tree ./defs --workflow order --db ./arbor.db --instance order-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Workflow, "workflow", "w", "", "workflow to print when several are declared")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "annotate with the recorded status of this instance")

	return cmd
}

func runTree(opts *TreeOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	defs, err := LoadDefinitions(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load definitions", err)
	}
	wf, err := defs.Workflow(opts.Workflow)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile workflow", err)
	}

	var statuses map[string]string
	if opts.Instance != "" {
		st, err := openLog(opts.RootOptions)
		if err != nil {
			return err
		}
		defer st.Close()
		records, err := st.ReadTrace(commandContext(cmd), opts.Instance, "status")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read trace", err)
		}
		if len(records) == 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("no tracking records for instance %s", opts.Instance))
		}
		statuses = make(map[string]string)
		for _, r := range records {
			// The committed record follows teardown.
			if strings.HasPrefix(r.Data, "committed") {
				continue
			}
			statuses[r.Activity] = r.Status + "/" + r.Result
		}
	}

	root := treeNode(wf.Spec.Root, statuses)
	return f.Success(root, func(w io.Writer) {
		fmt.Fprint(w, RenderTree(root))
	})
}

func treeNode(n *compiler.NodeSpec, statuses map[string]string) *TreeNode {
	tn := &TreeNode{Name: n.Name, Kind: n.Kind, Flags: nodeFlags(n), Status: statuses[n.Name]}
	for _, c := range n.Children {
		tn.Children = append(tn.Children, treeNode(c, statuses))
	}
	return tn
}

func nodeFlags(n *compiler.NodeSpec) []string {
	var flags []string
	if n.Compensatable {
		flags = append(flags, "compensatable")
	}
	if n.PersistOnClose {
		flags = append(flags, "persist")
	}
	if n.Boundary {
		flags = append(flags, "boundary")
	}
	if n.Alternate {
		flags = append(flags, "alternate")
	}
	if !n.Enabled {
		flags = append(flags, "disabled")
	}
	if len(n.Handles) > 0 {
		flags = append(flags, "handles="+strings.Join(n.Handles, ","))
	}
	if n.Count != nil {
		flags = append(flags, fmt.Sprintf("count=%d", *n.Count))
	}
	return flags
}

// RenderTree draws root with treeprint.
func RenderTree(root *TreeNode) string {
	tree := treeprint.NewWithRoot(treeLabel(root))
	addChildren(tree, root.Children)
	return tree.String()
}

func addChildren(branch treeprint.Tree, children []*TreeNode) {
	for _, c := range children {
		if len(c.Children) == 0 {
			branch.AddNode(treeLabel(c))
			continue
		}
		addChildren(branch.AddBranch(treeLabel(c)), c.Children)
	}
}

func treeLabel(n *TreeNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", n.Name, n.Kind)
	if len(n.Flags) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(n.Flags, " "))
	}
	if n.Status != "" {
		fmt.Fprintf(&b, " %s", n.Status)
	}
	return b.String()
}
