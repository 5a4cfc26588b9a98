package transport

import (
	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"
)

// taskChanSize bounds how many accepted connections can queue for a
// free worker before Accept blocks handing off the next one.
const taskChanSize = 256

// connWorkerFunc handles one queued connection to completion.
type connWorkerFunc func(t *tomb.Tomb, conn any) error

// workerPool is a fixed-size pool of goroutines draining a shared
// connection queue, bounding concurrent TCP session handling in front
// of the matching engine. The engine itself is safe for unbounded
// concurrent callers (each request is linearized by its own pair's
// worker), so the pool's only job is capping simultaneous
// connection-handling goroutines.
type workerPool struct {
	n     int
	tasks chan any
	work  connWorkerFunc
	log   zerolog.Logger
}

func newWorkerPool(size int, work connWorkerFunc, logger zerolog.Logger) *workerPool {
	return &workerPool{
		n:     size,
		tasks: make(chan any, taskChanSize),
		work:  work,
		log:   logger.With().Str("component", "transport.workerpool").Logger(),
	}
}

func (p *workerPool) addTask(conn any) {
	p.tasks <- conn
}

// setup maintains a full pool of workers under t until t starts dying.
func (p *workerPool) setup(t *tomb.Tomb) {
	p.log.Info().Int("workers", p.n).Msg("starting connection workers")
	for i := 0; i < p.n; i++ {
		t.Go(func() error {
			return p.worker(t)
		})
	}
}

func (p *workerPool) worker(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := p.work(t, task); err != nil {
				p.log.Error().Err(err).Msg("connection worker returned an error")
			}
		}
	}
}
