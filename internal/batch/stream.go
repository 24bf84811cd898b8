package batch

import (
	"context"
	"io"

	"github.com/dshills/QuantaFrame/internal/datatype"
)

// Stream yields batches in order. Next returns io.EOF after the last batch.
// Close releases resources held by the producer and may be called before the
// stream is drained.
type Stream interface {
	Schema() *datatype.Schema
	Next(ctx context.Context) (*Batch, error)
	Close() error
}

// sliceStream serves pre-built batches.
type sliceStream struct {
	schema  *datatype.Schema
	batches []*Batch
	pos     int
}

// FromBatches returns a stream over the given batches.
func FromBatches(schema *datatype.Schema, batches ...*Batch) Stream {
	return &sliceStream{schema: schema, batches: batches}
}

// Chunked returns a stream that serves b in chunks of at most size rows.
func Chunked(b *Batch, size int) Stream {
	if size <= 0 || b.NumRows() <= size {
		return FromBatches(b.Schema, b)
	}
	var chunks []*Batch
	for off := 0; off < b.NumRows(); off += size {
		chunks = append(chunks, b.Slice(off, size))
	}
	return FromBatches(b.Schema, chunks...)
}

func (s *sliceStream) Schema() *datatype.Schema { return s.schema }

func (s *sliceStream) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

func (s *sliceStream) Close() error {
	s.batches = nil
	return nil
}

// Collect drains a stream into one batch and closes it.
func Collect(ctx context.Context, s Stream) (*Batch, error) {
	defer s.Close()
	var parts []*Batch
	for {
		b, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, b)
	}
	return Concat(s.Schema(), parts...), nil
}
