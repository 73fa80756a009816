package blockchain

import (
	"sync"

	"github.com/coppernet/copperd/threadpool"
	"github.com/coppernet/copperd/util"
)

// ReorganizeHandler is notified of a completed reorganization. The error is
// nil for a real reorganize event and carries ErrServiceStopped for the
// synthetic shutdown notification. The fork blocks replace the original
// blocks starting above forkHeight.
type ReorganizeHandler func(err error, forkHeight uint64,
	forkBlocks, originalBlocks []*util.Block)

// ReorganizeSubscriber is a one-shot-per-notification multicast. Each
// subscribed handler is invoked once with the next event and then cleared.
//
// This type is safe for concurrent access.
type ReorganizeSubscriber struct {
	mtx      sync.Mutex
	handlers []ReorganizeHandler
	stopped  bool
	dispatch *threadpool.Pool
}

// NewReorganizeSubscriber returns a subscriber that delivers notifications
// through the given dispatch pool.
func NewReorganizeSubscriber(dispatch *threadpool.Pool) *ReorganizeSubscriber {
	return &ReorganizeSubscriber{
		dispatch: dispatch,
		stopped:  true,
	}
}

// Start enables subscriptions.
func (s *ReorganizeSubscriber) Start() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.stopped = false
}

// Stop disables new subscriptions. Handlers already registered remain until
// the final Invoke drains them.
func (s *ReorganizeSubscriber) Stop() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.stopped = true
}

// Subscribe registers a handler for the next notification. A handler
// subscribed after stop is immediately completed with the service-stopped
// event.
func (s *ReorganizeSubscriber) Subscribe(handler ReorganizeHandler) {
	s.mtx.Lock()
	if s.stopped {
		s.mtx.Unlock()
		s.deliver(handler, ruleError(ErrServiceStopped, "subscriber stopped"),
			0, nil, nil)
		return
	}

	s.handlers = append(s.handlers, handler)
	s.mtx.Unlock()
}

// Invoke calls each subscribed handler once with the given event and clears
// the subscription list. Handlers are dispatched on a worker thread rather
// than inline on the caller, which prevents subscription processing from
// creating an insurmountable backlog during catch-up sync. Once the dispatch
// pool has shut down, each handler is instead completed inline with the
// service-stopped event.
func (s *ReorganizeSubscriber) Invoke(err error, forkHeight uint64,
	forkBlocks, originalBlocks []*util.Block) {

	s.mtx.Lock()
	handlers := s.handlers
	s.handlers = nil
	s.mtx.Unlock()

	for _, handler := range handlers {
		s.deliver(handler, err, forkHeight, forkBlocks, originalBlocks)
	}
}

// deliver hands one notification to one handler on the dispatch pool,
// falling back inline only when the pool has already shut down.
func (s *ReorganizeSubscriber) deliver(handler ReorganizeHandler, err error,
	forkHeight uint64, forkBlocks, originalBlocks []*util.Block) {

	spawnErr := s.dispatch.Spawn(func() {
		handler(err, forkHeight, forkBlocks, originalBlocks)
	})
	if spawnErr != nil {
		handler(ruleError(ErrServiceStopped, "dispatch pool stopped"), 0,
			nil, nil)
	}
}
