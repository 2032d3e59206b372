package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	persistQueueSize = 256
	persistTimeout   = 5 * time.Second
)

type persistJob struct {
	name string
	fn   func(ctx context.Context) error
}

// persister runs best-effort writes off the loop, in the order they were
// queued. A full queue drops the write.
type persister struct {
	jobs    chan persistJob
	stopped chan struct{}
	logger  zerolog.Logger
}

func newPersister(logger zerolog.Logger) *persister {
	p := &persister{
		jobs:    make(chan persistJob, persistQueueSize),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.stopped)
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := job.fn(ctx); err != nil {
			p.logger.Warn().Err(err).Str("job", job.name).Msg("persistence failed")
		}
		cancel()
	}
}

func (p *persister) enqueue(name string, fn func(ctx context.Context) error) {
	select {
	case p.jobs <- persistJob{name: name, fn: fn}:
	default:
		p.logger.Warn().Str("job", name).Msg("persistence queue full, dropping write")
	}
}

// close stops accepting work and waits for queued writes to finish.
func (p *persister) close() {
	close(p.jobs)
	<-p.stopped
}
