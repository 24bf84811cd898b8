package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
)

type runOptions struct {
	limit int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a pipeline and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "stop after this many rows (0 for all)")
	return cmd
}

func runPipeline(cmd *cobra.Command, root *RootOptions, opts *runOptions, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := loadPipeline(ctx, root, path)
	if err != nil {
		return err
	}
	defer p.Close()

	d, err := root.dispatcher()
	if err != nil {
		return err
	}
	defer d.Close()

	q, err := d.Run(ctx, p.Output)
	if err != nil {
		return err
	}
	defer q.Close()

	var parts []*batch.Batch
	rows := 0
	for opts.limit <= 0 || rows < opts.limit {
		b, err := q.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if opts.limit > 0 && rows+b.NumRows() > opts.limit {
			b = b.Slice(0, opts.limit-rows)
		}
		parts = append(parts, b)
		rows += b.NumRows()
	}
	out := batch.Concat(q.Schema(), parts...)

	if root.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out.String())
	return err
}

type jsonResult struct {
	Columns []jsonColumn `json:"columns"`
	Rows    [][]any      `json:"rows"`
}

type jsonColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func writeJSON(w io.Writer, b *batch.Batch) error {
	res := jsonResult{Rows: make([][]any, 0, b.NumRows())}
	for _, c := range b.Schema.Columns() {
		res.Columns = append(res.Columns, jsonColumn{Name: c.Name, Type: c.Type.String()})
	}
	for _, row := range b.Rows() {
		for i, v := range row {
			if t := b.Schema.Column(i).Type; t.IsTemporal() && v != nil {
				row[i] = datatype.FormatValue(v)
			}
		}
		res.Rows = append(res.Rows, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
