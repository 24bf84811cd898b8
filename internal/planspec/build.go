package planspec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/config"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/feature"
	"github.com/dshills/QuantaFrame/internal/planner"
	"github.com/dshills/QuantaFrame/internal/source"
	"github.com/dshills/QuantaFrame/internal/source/sqlsource"
)

// Pipeline holds the frames built from a document and the database
// handles its SQL sources opened.
type Pipeline struct {
	// Output is the frame the document selected.
	Output *planner.LazyFrame
	Frames map[string]*planner.LazyFrame

	sources map[string]source.Source
	dbs     []*sql.DB
}

// Close releases the database handles.
func (p *Pipeline) Close() error {
	var errs []error
	for _, db := range p.dbs {
		errs = append(errs, db.Close())
	}
	p.dbs = nil
	return errors.Join(errs...)
}

// Build opens the sources and replays the frames' steps on lazy frames.
// The document's feature overrides apply on top of cfg's.
func (d *Document) Build(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	features, err := cfg.Features()
	if err != nil {
		return nil, err
	}
	for name, enabled := range d.Features {
		flag := feature.Flag(name)
		if !features.Known(flag) {
			return nil, fmt.Errorf("unknown feature flag %q", name)
		}
		features.Set(flag, enabled)
	}

	p := &Pipeline{Frames: map[string]*planner.LazyFrame{}, sources: map[string]source.Source{}}
	for _, spec := range d.Sources {
		src, err := p.openSource(ctx, spec)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("source %s: %w", spec.Name, err)
		}
		p.sources[spec.Name] = src
	}

	b := &frameBuilder{p: p, opts: []planner.FrameOption{planner.WithFeatures(features), planner.WithConfig(cfg)}}
	for _, f := range d.Frames {
		lf, err := b.frame(f)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Frames[f.Name] = lf
	}

	out := d.Output
	if out == "" {
		out = d.Frames[len(d.Frames)-1].Name
	}
	p.Output = p.Frames[out]
	if p.Output == nil {
		// A source can be the output too.
		p.Output, _ = b.input(out)
	}
	return p, nil
}

func (p *Pipeline) openSource(ctx context.Context, spec SourceSpec) (source.Source, error) {
	if spec.SQL != nil {
		return p.openSQL(ctx, spec.SQL)
	}
	cols := make([]datatype.Column, len(spec.Columns))
	for i, c := range spec.Columns {
		t, err := datatype.Parse(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		cols[i] = datatype.Column{Name: c.Name, Type: t}
	}
	schema, err := datatype.NewSchema(cols...)
	if err != nil {
		return nil, err
	}
	data, err := batch.FromRows(schema, spec.Rows...)
	if err != nil {
		return nil, err
	}
	return source.NewMemorySource(spec.Name, data), nil
}

func (p *Pipeline) openSQL(ctx context.Context, spec *SQLSpec) (source.Source, error) {
	dialect, ok := sqlsource.DialectFor(spec.Driver)
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", spec.Driver)
	}
	db, err := sql.Open(spec.Driver, spec.DSN)
	if err != nil {
		return nil, err
	}
	p.dbs = append(p.dbs, db)
	src, err := sqlsource.Open(ctx, db, dialect, spec.Table)
	if err != nil {
		return nil, err
	}
	if spec.Analyze {
		if err := src.Analyze(ctx); err != nil {
			return nil, err
		}
	}
	return src, nil
}

type frameBuilder struct {
	p    *Pipeline
	opts []planner.FrameOption
}

// input resolves a frame or source name.
func (b *frameBuilder) input(name string) (*planner.LazyFrame, error) {
	if lf, ok := b.p.Frames[name]; ok {
		return lf, nil
	}
	if src, ok := b.p.sources[name]; ok {
		return planner.ScanSource(src, b.opts...), nil
	}
	return nil, fmt.Errorf("unknown frame or source %q", name)
}

func (b *frameBuilder) frame(f FrameSpec) (*planner.LazyFrame, error) {
	lf, err := b.input(f.From)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", f.Name, err)
	}
	for i, step := range f.Steps {
		if lf, err = b.apply(lf, step); err != nil {
			return nil, fmt.Errorf("frame %s step %d: %w", f.Name, i+1, err)
		}
	}
	return lf, nil
}

func (b *frameBuilder) apply(lf *planner.LazyFrame, s Step) (*planner.LazyFrame, error) {
	switch {
	case s.Filter != nil:
		pred, err := s.Filter.Build()
		if err != nil {
			return nil, err
		}
		return lf.Filter(pred)

	case s.Select != nil:
		exprs, err := buildAll(s.Select)
		if err != nil {
			return nil, err
		}
		return lf.Select(exprs...)

	case s.WithColumns != nil:
		exprs, err := buildAll(s.WithColumns)
		if err != nil {
			return nil, err
		}
		return lf.WithColumns(exprs...)

	case s.GroupBy != nil:
		return groupBy(lf, s.GroupBy)

	case s.Join != nil:
		return b.join(lf, s.Join)

	case s.Sort != nil:
		keys, err := buildSort(s.Sort)
		if err != nil {
			return nil, err
		}
		return lf.Sort(keys...)

	case s.Slice != nil:
		return lf.Slice(s.Slice.Offset, s.Slice.Length)

	case s.Head != nil:
		return lf.Head(*s.Head)

	case s.Unique != nil:
		keep, ok := planner.ParseDistinctKeep(s.Unique.Keep)
		if !ok {
			return nil, fmt.Errorf("unknown keep strategy %q", s.Unique.Keep)
		}
		return lf.Unique(s.Unique.Subset, keep)

	case s.Concat != nil:
		others := make([]*planner.LazyFrame, len(s.Concat))
		for i, name := range s.Concat {
			other, err := b.input(name)
			if err != nil {
				return nil, err
			}
			others[i] = other
		}
		return lf.Concat(others...)

	case s.Cache:
		return lf.Cache(), nil
	}
	return nil, fmt.Errorf("empty step")
}

func groupBy(lf *planner.LazyFrame, g *GroupBySpec) (*planner.LazyFrame, error) {
	keys, err := buildAll(g.Keys)
	if err != nil {
		return nil, err
	}
	aggs, err := buildAll(g.Aggs)
	if err != nil {
		return nil, err
	}
	if g.Dynamic == nil {
		return lf.GroupBy(keys...).Agg(aggs...)
	}
	w := planner.DynamicWindow{
		Index:  g.Dynamic.Index,
		Every:  g.Dynamic.Every,
		Period: g.Dynamic.Period,
		Offset: g.Dynamic.Offset,
	}
	if w.Period == 0 {
		w.Period = w.Every
	}
	return lf.GroupByDynamic(w, keys...).Agg(aggs...)
}

func (b *frameBuilder) join(lf *planner.LazyFrame, j *JoinSpec) (*planner.LazyFrame, error) {
	other, err := b.input(j.With)
	if err != nil {
		return nil, err
	}
	how := planner.InnerJoin
	if j.How != "" {
		var ok bool
		if how, ok = planner.ParseJoinType(j.How); !ok {
			return nil, fmt.Errorf("unknown join type %q", j.How)
		}
	}
	var opts []planner.JoinOption
	if j.Suffix != "" {
		opts = append(opts, planner.WithSuffix(j.Suffix))
	}
	if j.Tolerance != nil {
		opts = append(opts, planner.WithTolerance(*j.Tolerance))
	}

	switch {
	case how == planner.CrossJoin:
		return lf.CrossJoin(other, opts...)

	case how == planner.AsofJoin:
		strategy, ok := planner.ParseAsofStrategy(j.Strategy)
		if !ok {
			return nil, fmt.Errorf("unknown asof strategy %q", j.Strategy)
		}
		left, right, err := asofKeys(j)
		if err != nil {
			return nil, err
		}
		return lf.JoinAsof(other, left, right, strategy, opts...)

	case j.Where != nil:
		cond, err := j.Where.Build()
		if err != nil {
			return nil, err
		}
		return lf.JoinWhere(other, cond, opts...)

	case j.On != nil:
		return lf.JoinUsing(other, how, j.On, opts...)
	}

	leftOn, err := buildAll(j.LeftOn)
	if err != nil {
		return nil, err
	}
	rightOn, err := buildAll(j.RightOn)
	if err != nil {
		return nil, err
	}
	return lf.Join(other, how, leftOn, rightOn, opts...)
}

func asofKeys(j *JoinSpec) (left, right string, err error) {
	if len(j.On) == 1 {
		return j.On[0], j.On[0], nil
	}
	if len(j.LeftOn) != 1 || len(j.RightOn) != 1 {
		return "", "", fmt.Errorf("asof join takes exactly one key per side")
	}
	l, err := j.LeftOn[0].Build()
	if err != nil {
		return "", "", err
	}
	r, err := j.RightOn[0].Build()
	if err != nil {
		return "", "", err
	}
	ln, lok := expr.IsColumnRef(l)
	rn, rok := expr.IsColumnRef(r)
	if !lok || !rok {
		return "", "", fmt.Errorf("asof join keys must be columns")
	}
	return ln, rn, nil
}
