package scheduler

import (
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/justestif/go-listening-stats/internal/logging"
)

// Supervisor defaults.
const (
	DefaultFailureThreshold = 5
	DefaultFailureDecay     = 30
	DefaultFailureBackoff   = 15 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second
)

// TreeConfig configures restart behaviour.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns the restart policy used in production.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: DefaultFailureThreshold,
		FailureDecay:     DefaultFailureDecay,
		FailureBackoff:   DefaultFailureBackoff,
		ShutdownTimeout:  DefaultShutdownTimeout,
	}
}

// Tree is a root supervisor with a child for jobs and one for the API.
//
//	root
//	├── jobs  (periodic ingestion and aggregation)
//	└── api   (HTTP server)
type Tree struct {
	root *suture.Supervisor
	jobs *suture.Supervisor
	api  *suture.Supervisor
}

// NewTree builds the supervisor hierarchy.
func NewTree(name string, cfg TreeConfig) *Tree {
	spec := suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	t := &Tree{
		root: suture.New(name, spec),
		jobs: suture.New("jobs", spec),
		api:  suture.New("api", spec),
	}
	t.root.Add(t.jobs)
	t.root.Add(t.api)
	return t
}

// AddJob validates j and adds it to the jobs supervisor.
func (t *Tree) AddJob(j *Job) (suture.ServiceToken, error) {
	if err := j.Validate(); err != nil {
		return suture.ServiceToken{}, err
	}
	return t.jobs.Add(j), nil
}

// AddAPI adds a service to the API supervisor.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Root returns the root supervisor. Call Serve or ServeBackground on it.
func (t *Tree) Root() *suture.Supervisor {
	return t.root
}

func logEvent(e suture.Event) {
	ev := logging.Warn()
	if _, ok := e.(suture.EventServicePanic); ok {
		ev = logging.Error()
	}
	ev.Fields(e.Map()).Msg(e.String())
}
