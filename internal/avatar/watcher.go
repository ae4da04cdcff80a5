package avatar

import (
	"sync"
	"time"

	"avatar-control-service/internal/observability/metrics"
)

// StatusFunc polls the binding for its current SDK status.
type StatusFunc func() (Status, error)

// Readiness detection paths.
const (
	ReadyByPush = "push"
	ReadyByPoll = "poll"
)

// Watcher discovers binding readiness. The SDK's push callbacks are not
// reliable, so a fixed-interval poll runs alongside them; whichever path
// sees readiness first wins and the poll is released.
//
// The poll goroutine exits on readiness, on a poll error and on Stop.
type Watcher struct {
	interval time.Duration
	poll     StatusFunc
	onReady  func(path string)
	onError  func(err error)
	m        *metrics.Metrics

	mu      sync.Mutex
	started bool
	polls   int
	ready   bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher. onReady fires at most once.
func NewWatcher(interval time.Duration, poll StatusFunc, onReady func(path string)) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		interval: interval,
		poll:     poll,
		onReady:  onReady,
		m:        metrics.DefaultMetrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnError registers a callback for the poll error that ends polling.
func (w *Watcher) OnError(fn func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = fn
}

// Start begins polling. Calling Start twice is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.run()
}

func (w *Watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// Stop may have raced the tick.
			select {
			case <-w.stop:
				return
			default:
			}

			w.mu.Lock()
			w.polls++
			w.mu.Unlock()
			w.m.RecordStatusPoll()

			status, err := w.poll()
			if err != nil {
				w.mu.Lock()
				onError := w.onError
				w.mu.Unlock()
				if onError != nil {
					onError(err)
				}
				w.release()
				return
			}
			if status.Ready() {
				w.markReady(ReadyByPoll)
				return
			}
		}
	}
}

// NotifyReady is the push path: the binding reported readiness via callback.
func (w *Watcher) NotifyReady() {
	w.markReady(ReadyByPush)
}

func (w *Watcher) markReady(path string) {
	w.mu.Lock()
	if w.ready {
		w.mu.Unlock()
		return
	}
	w.ready = true
	w.mu.Unlock()

	w.release()
	w.m.RecordAvatarReady(path)
	if w.onReady != nil {
		w.onReady(path)
	}
}

// Stop cancels polling. Safe to call on every exit path and more than once.
func (w *Watcher) Stop() {
	w.release()
}

func (w *Watcher) release() {
	w.once.Do(func() { close(w.stop) })
}

// Done is closed once the poll goroutine has exited.
// It never closes if Start was not called.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Polls returns the number of polls performed so far.
func (w *Watcher) Polls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.polls
}

// Ready reports whether readiness has been observed.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}
