// Package pipeline implements the staged, lazily-evaluated transformation
// described in spec §4.5: a pipeline is an ordered list of stages, each a
// function from a lazy input sequence to a lazy output sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoOutput is raised when a pipeline's final stage emits no record: a
// job cannot reach COMPLETED without a non-empty output (spec testable
// property 3), so an empty run is a failure rather than a silent success.
var ErrNoOutput = errors.New("pipeline completed with no output")

// Record is a single value flowing through a pipeline. Stages are
// specified as lazy sequence transformers to admit future streaming
// outputs; most stages in practice emit exactly one record.
type Record struct {
	Value any
}

// Seq is a single-method pull iterator: each call to Next returns the next
// record, or ok=false when the sequence is exhausted, or an error if
// production failed. This is the "lazy sequence" the spec requires without
// taking on an external iterator/generator library.
type Seq interface {
	Next(ctx context.Context) (rec Record, ok bool, err error)
}

// sliceSeq adapts a single value into a one-element Seq, used to seed a
// pipeline with its initial payload.
type sliceSeq struct {
	values []Record
	pos    int
}

func (s *sliceSeq) Next(ctx context.Context) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	if s.pos >= len(s.values) {
		return Record{}, false, nil
	}
	v := s.values[s.pos]
	s.pos++
	return v, true, nil
}

// Single returns a Seq yielding exactly one record.
func Single(value any) Seq {
	return &sliceSeq{values: []Record{{Value: value}}}
}

// Stage transforms a lazy input sequence into a lazy output sequence.
// Implementations must not eagerly drain in; evaluation stays demand-driven
// so memory is bounded by at most one in-flight record per stage.
type Stage func(in Seq) Seq

// StageError is a structured pipeline failure: a stage raises this (or any
// error — StageError merely carries the classification) and the engine
// converts it into a job failure, recording the text in both the job and
// the result.
type StageError struct {
	Stage   string
	Fatal   bool
	Wrapped error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return e.Wrapped.Error()
	}
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Wrapped)
}

func (e *StageError) Unwrap() error { return e.Wrapped }

// Pipeline is an ordered sequence of stages, chained so each stage's
// output feeds the next stage's input.
type Pipeline struct {
	Stages []Stage
}

// New builds a Pipeline from an ordered list of stages.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{Stages: stages}
}

// Run feeds payload through every stage in order and drains the final
// stage's sequence. The pipeline's output is the last emitted record.
func (p *Pipeline) Run(ctx context.Context, payload map[string]any) (any, error) {
	var seq Seq = Single(payload)
	for _, stage := range p.Stages {
		seq = stage(seq)
	}

	var last Record
	var have bool
	for {
		rec, ok, err := seq.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		last, have = rec, true
	}
	if !have {
		return nil, ErrNoOutput
	}
	return last.Value, nil
}
