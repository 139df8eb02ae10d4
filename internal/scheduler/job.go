// Package scheduler runs periodic jobs and long-lived services under a suture
// supervisor tree.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justestif/go-listening-stats/internal/lock"
	"github.com/justestif/go-listening-stats/internal/logging"
)

// ErrInvalidJob is returned by Validate for a job that cannot run.
var ErrInvalidJob = errors.New("invalid job")

// Job runs Run every Interval until its context is cancelled. It implements
// suture.Service.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Validate reports whether the job can be scheduled.
func (j *Job) Validate() error {
	switch {
	case j.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidJob)
	case j.Interval <= 0:
		return fmt.Errorf("%w: %s: interval must be positive", ErrInvalidJob, j.Name)
	case j.Run == nil:
		return fmt.Errorf("%w: %s: missing run func", ErrInvalidJob, j.Name)
	}
	return nil
}

// Serve blocks until ctx is cancelled. Run errors are logged, not returned, so
// one failed run does not restart the job. A panic in Run is left to the
// supervisor.
func (j *Job) Serve(ctx context.Context) error {
	if j.RunOnStart {
		j.runOnce(ctx)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *Job) String() string {
	return "job:" + j.Name
}

func (j *Job) runOnce(ctx context.Context) {
	ctx = logging.WithNewCorrelationID(ctx)
	log := logging.Ctx(ctx).With().Str("job", j.Name).Logger()

	began := time.Now()
	err := j.Run(ctx)
	switch {
	case err == nil:
		log.Debug().Dur("elapsed", time.Since(began)).Msg("job run finished")
	case errors.Is(err, lock.ErrHeld):
		log.Info().Msg("job already running, skipped")
	case ctx.Err() != nil:
		log.Debug().Err(err).Msg("job run cancelled")
	default:
		log.Error().Err(err).Dur("elapsed", time.Since(began)).Msg("job run failed")
	}
}
