// Package drag turns a continuous pointer gesture into at most one discrete
// reorder intent.
//
// The Manager is a two-state machine (Idle, Dragging). It never mutates the
// collection: pointer moves only update the preview index, and the intent is
// handed back to the caller on Drop.
package drag

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/kilupskalvis/modsync/internal/order"
)

var (
	ErrBusy       = errors.New("drag disabled while a change is being saved")
	ErrActive     = errors.New("a drag is already in progress")
	ErrOutOfRange = errors.New("drag index out of range")
)

// State is the state of a Manager.
type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Session is the ephemeral state of one gesture.
type Session struct {
	ActiveID     string
	SourceIndex  int
	CurrentIndex int
}

// Intent asks for the item at From to move to To.
type Intent struct {
	EntityID string
	From     int
	To       int
}

// Guard reports whether the collection has a mutation in flight.
type Guard interface {
	IsPending() bool
}

// Holder is the collection being dragged over. Hold parks reloads for the
// duration of the gesture; Release reports whether a parked reload was
// applied when the hold was dropped.
type Holder interface {
	Hold()
	Release() bool
	Len() int
}

// Manager tracks the single drag session allowed per collection.
type Manager struct {
	guard  Guard
	holder Holder
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	session Session
}

// NewManager creates an idle Manager. A nil logger uses slog.Default().
func NewManager(guard Guard, holder Holder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{guard: guard, holder: holder, logger: logger}
}

// Start begins a gesture on the item with the given id at index.
func (m *Manager) Start(id string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Dragging {
		return ErrActive
	}
	if m.guard.IsPending() {
		return ErrBusy
	}
	if index < 0 || index >= m.holder.Len() {
		return ErrOutOfRange
	}

	m.holder.Hold()
	m.state = Dragging
	m.session = Session{ActiveID: id, SourceIndex: index, CurrentIndex: index}
	return nil
}

// Move sets the preview index, clamped to the collection bounds. It reports
// whether the preview changed.
func (m *Manager) Move(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Dragging {
		return false
	}
	if n := m.holder.Len(); index >= n {
		index = n - 1
	}
	if index < 0 {
		index = 0
	}
	if index == m.session.CurrentIndex {
		return false
	}
	m.session.CurrentIndex = index
	return true
}

// Pointer resolves the preview index from a pointer position and the item
// layout captured when the drag started.
func (m *Manager) Pointer(y float64, rects []Rect) bool {
	m.mu.Lock()
	source := m.session.SourceIndex
	dragging := m.state == Dragging
	m.mu.Unlock()

	if !dragging {
		return false
	}
	return m.Move(ResolveIndex(y, rects, source))
}

// Drop ends the gesture. It returns an intent only when the item was moved
// and the collection was not reloaded underneath the gesture.
func (m *Manager) Drop() (Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Dragging {
		return Intent{}, false
	}
	s := m.session
	m.reset()

	if m.holder.Release() {
		m.logger.Debug("drag dropped after reload, discarding", "id", s.ActiveID)
		return Intent{}, false
	}
	if s.CurrentIndex == s.SourceIndex {
		return Intent{}, false
	}
	return Intent{EntityID: s.ActiveID, From: s.SourceIndex, To: s.CurrentIndex}, true
}

// Cancel abandons the gesture and its preview.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Dragging {
		return
	}
	m.reset()
	m.holder.Release()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the active session, if any.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.state == Dragging
}

func (m *Manager) reset() {
	m.state = Idle
	m.session = Session{}
}

// Preview returns items in the order shown while the session is active.
func Preview[T order.Item[T]](s Session, items []T) []T {
	out, _ := order.Move(items, s.SourceIndex, s.CurrentIndex)
	return out
}
