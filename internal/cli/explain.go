package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/QuantaFrame/internal/planner"
	"github.com/dshills/QuantaFrame/internal/planspec"
)

type explainOptions struct {
	unoptimized bool
	physical    bool
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &explainOptions{}
	cmd := &cobra.Command{
		Use:   "explain <pipeline.yaml>",
		Short: "Print the plan of a pipeline without running it",
		Long: `Print the optimized logical plan of the pipeline's output frame.

With --physical the plan is also lowered and the chosen executor is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.unoptimized, "unoptimized", false, "print the plan as built, before optimization")
	cmd.Flags().BoolVar(&opts.physical, "physical", false, "print the lowered physical plan")
	return cmd
}

func runExplain(cmd *cobra.Command, root *RootOptions, opts *explainOptions, path string) error {
	p, err := loadPipeline(cmd.Context(), root, path)
	if err != nil {
		return err
	}
	defer p.Close()

	var text string
	switch {
	case opts.physical:
		d, err := root.dispatcher()
		if err != nil {
			return err
		}
		defer d.Close()
		text, err = d.Explain(p.Output)
		if err != nil {
			return err
		}
	case opts.unoptimized:
		text = planner.ExplainPlan(p.Output.Plan())
	default:
		opt := planner.NewOptimizer(root.cfg.Optimizer, p.Output.Features(), planner.WithLogger(root.logger))
		plan, err := opt.Optimize(p.Output.Plan())
		if err != nil {
			return err
		}
		text = planner.ExplainPlan(plan)
	}

	if root.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(map[string]string{"plan": text})
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}

func loadPipeline(ctx context.Context, root *RootOptions, path string) (*planspec.Pipeline, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	doc, err := planspec.Load(path)
	if err != nil {
		return nil, err
	}
	return doc.Build(ctx, root.cfg)
}
