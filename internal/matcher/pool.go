package matcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// JobKind selects the matcher entry point a job runs.
type JobKind int

const (
	// JobMatchPost evaluates a post against all queries.
	JobMatchPost JobKind = iota
	// JobPopulateQuery ranks all posts against a query.
	JobPopulateQuery
	// JobRefreshQuery clears a query's cache, then repopulates.
	JobRefreshQuery
)

func (k JobKind) String() string {
	switch k {
	case JobMatchPost:
		return "match_post"
	case JobPopulateQuery:
		return "populate_query"
	case JobRefreshQuery:
		return "refresh_query"
	default:
		return "unknown"
	}
}

// Job is one unit of matcher work.
type Job struct {
	Kind JobKind
	ID   int64
}

// Pool runs matcher jobs on a fixed set of workers. Submitting a job
// already in flight marks it for one re-run after the current run
// finishes, so a burst of edits converges to the final state without
// queueing duplicate work.
type Pool struct {
	matcher *Matcher
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	inFlight map[Job]bool // value: re-run requested

	populate singleflight.Group
}

// NewPool creates a pool with the given worker count.
func NewPool(m *Matcher, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		matcher:  m,
		jobs:     make(chan Job, 256),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[Job]bool),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// Submit enqueues a job. If the same job is already queued or running,
// it is coalesced into one re-run. Never blocks the caller; a no-op
// after Stop.
func (p *Pool) Submit(job Job) {
	if p.ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if _, running := p.inFlight[job]; running {
		p.inFlight[job] = true
		p.mu.Unlock()
		return
	}
	p.inFlight[job] = false
	p.mu.Unlock()

	select {
	case p.jobs <- job:
	default:
		// Queue full; hand off without blocking the request worker. The
		// handoff gives up when the pool stops so it cannot leak.
		go func() {
			select {
			case p.jobs <- job:
			case <-p.ctx.Done():
				p.mu.Lock()
				delete(p.inFlight, job)
				p.mu.Unlock()
			}
		}()
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	if err := p.dispatch(ctx, job); err != nil && ctx.Err() == nil {
		log.Error().Err(err).
			Str("job", job.Kind.String()).
			Int64("id", job.ID).
			Msg("Matcher job failed")
	}

	p.mu.Lock()
	rerun := p.inFlight[job]
	delete(p.inFlight, job)
	p.mu.Unlock()

	if rerun && ctx.Err() == nil {
		p.Submit(job)
	}
}

func (p *Pool) dispatch(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobMatchPost:
		return p.matcher.MatchPost(ctx, job.ID)
	case JobPopulateQuery:
		return p.matcher.PopulateQuery(ctx, job.ID)
	case JobRefreshQuery:
		return p.matcher.RefreshQuery(ctx, job.ID)
	default:
		return fmt.Errorf("unknown job kind %d", job.Kind)
	}
}

// PopulateQuerySync populates a query and waits for the result.
// Concurrent callers for the same query share one run.
func (p *Pool) PopulateQuerySync(ctx context.Context, queryID int64) error {
	_, err, _ := p.populate.Do(fmt.Sprintf("populate:%d", queryID), func() (interface{}, error) {
		return nil, p.matcher.PopulateQuery(ctx, queryID)
	})
	return err
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
