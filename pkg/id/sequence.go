package id

import "sync/atomic"

// Sequence produces strictly increasing operation numbers, starting at 1.
type Sequence struct {
	last atomic.Uint64
}

// NewSequence creates a new Sequence.
func NewSequence() *Sequence { return &Sequence{} }

// Next returns the next number.
func (s *Sequence) Next() uint64 { return s.last.Add(1) }

// Last returns the most recently issued number, 0 if none.
func (s *Sequence) Last() uint64 { return s.last.Load() }
