package listing

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	domain "github.com/donaldgifford/automarket/pkg/types"
)

// ErrSubmitInProgress is returned when a form is submitted again before the
// previous submission finished.
var ErrSubmitInProgress = errors.New("submission already in progress")

// Submitter guards a form against double submission. The zero value is ready
// to use.
type Submitter struct {
	busy atomic.Bool
	now  func() time.Time
}

// Busy reports whether a submission is in flight.
func (s *Submitter) Busy() bool {
	return s.busy.Load()
}

// Submit validates in and calls send with it unchanged. Invalid input never
// reaches send.
func (s *Submitter) Submit(ctx context.Context, in domain.CarInput,
	send func(context.Context, domain.CarInput) (*domain.Car, error),
) (*domain.Car, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrSubmitInProgress
	}
	defer s.busy.Store(false)

	if err := Validate(in, s.clock()); err != nil {
		return nil, err
	}
	return send(ctx, in)
}

func (s *Submitter) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
