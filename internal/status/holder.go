package status

import "sync"

// Holder is the single piece of state shared between a run goroutine and its
// observers. Every read returns a complete value; writers hold the lock for
// the whole assignment.
type Holder struct {
	// notify serializes transitions with their callbacks so observers see
	// them in the order they were applied.
	notify   sync.Mutex
	mu       sync.RWMutex
	current  Status
	onChange func(Status)
}

func NewHolder() *Holder {
	return &Holder{current: Idle{}}
}

// OnChange registers fn to be called after every transition, in order. fn
// may read the holder but must not change it. Set it before the holder is
// shared.
func (h *Holder) OnChange(fn func(Status)) {
	h.onChange = fn
}

func (h *Holder) Get() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *Holder) Set(s Status) {
	h.notify.Lock()
	defer h.notify.Unlock()

	h.mu.Lock()
	h.current = s
	h.mu.Unlock()

	if h.onChange != nil {
		h.onChange(s)
	}
}

// StartIf moves to next only when ok(current) holds, as one atomic step.
func (h *Holder) StartIf(ok func(Status) bool, next Status) bool {
	h.notify.Lock()
	defer h.notify.Unlock()

	h.mu.Lock()
	if !ok(h.current) {
		h.mu.Unlock()
		return false
	}
	h.current = next
	h.mu.Unlock()

	if h.onChange != nil {
		h.onChange(next)
	}
	return true
}
