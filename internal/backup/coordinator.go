package backup

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token identifies one successful acquisition of the Coordinator
type Token struct {
	id       string
	cooldown bool
}

// ID returns the operation id carried by the token
func (t Token) ID() string {
	return t.id
}

// CoordinatorState is a point-in-time view of the guard
type CoordinatorState struct {
	InFlight           bool      `json:"inFlight"`
	CurrentOperationID string    `json:"currentOperationId,omitempty"`
	LastCompletionTime time.Time `json:"lastCompletionTime,omitempty"`
}

// Coordinator is the process-wide single-flight guard for backup and restore.
// One instance is created by the application root and handed to every caller.
type Coordinator struct {
	mu                 sync.Mutex
	inFlight           bool
	currentOperationID string
	lastCompletionTime time.Time
	cooldown           time.Duration
	now                func() time.Time
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithCooldown overrides the window in which new backups are suppressed
func WithCooldown(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.cooldown = d
	}
}

// WithCoordinatorClock overrides the time source
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a guard with the default 15s cooldown
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TryAcquire never blocks. It fails while an operation is in flight or
// within the cooldown after the last successful backup.
func (c *Coordinator) TryAcquire() (Token, bool) {
	return c.acquire(true)
}

// TryAcquireExclusive fails only while an operation is in flight. Restores use
// it so that a restore right after a backup is not mistaken for a duplicate.
func (c *Coordinator) TryAcquireExclusive() (Token, bool) {
	return c.acquire(false)
}

func (c *Coordinator) acquire(honorCooldown bool) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return Token{}, false
	}
	if honorCooldown && !c.lastCompletionTime.IsZero() && c.now().Sub(c.lastCompletionTime) < c.cooldown {
		return Token{}, false
	}

	c.inFlight = true
	c.currentOperationID = uuid.NewString()
	return Token{id: c.currentOperationID, cooldown: honorCooldown}, true
}

// Release ends the operation identified by token. A nil err stamps the
// completion time for backup tokens. Stale or zero tokens are ignored.
func (c *Coordinator) Release(token Token, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inFlight || token.id == "" || token.id != c.currentOperationID {
		return
	}

	c.inFlight = false
	c.currentOperationID = ""
	if err == nil && token.cooldown {
		c.lastCompletionTime = c.now()
	}
}

// State returns a snapshot of the guard
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CoordinatorState{
		InFlight:           c.inFlight,
		CurrentOperationID: c.currentOperationID,
		LastCompletionTime: c.lastCompletionTime,
	}
}
