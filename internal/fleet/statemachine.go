// Package fleet coordinates push/pull across the device fleet (spec
// section 4.6): chunking and uploading local edits, reconciling
// remote updates via vector clocks, and resolving concurrent edits.
package fleet

import (
	"sync"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// FileState is the per-file state machine (spec section 4.6.5),
// grounded on the teacher's TransferState enum-with-String idiom and
// validated-transition table.
type FileState int

const (
	StateSynced FileState = iota + 1
	StateModifiedLocal
	StatePendingUpload
	StatePendingDownload
	StateConflict
)

func (s FileState) String() string {
	switch s {
	case StateSynced:
		return "Synced"
	case StateModifiedLocal:
		return "ModifiedLocal"
	case StatePendingUpload:
		return "PendingUpload"
	case StatePendingDownload:
		return "PendingDownload"
	case StateConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// validTransitions encodes spec section 4.6.5's transition table.
// States are perpetual (never terminal) except on device shutdown.
var validTransitions = map[FileState][]FileState{
	StateSynced:          {StateModifiedLocal, StatePendingDownload, StateConflict},
	StateModifiedLocal:   {StatePendingUpload, StateConflict},
	StatePendingUpload:   {StateSynced, StateModifiedLocal},
	StatePendingDownload: {StateSynced, StateConflict},
	StateConflict:        {StateSynced, StateModifiedLocal},
}

// FileStateMachine tracks one local path's sync state, guarding
// transitions against the table above.
type FileStateMachine struct {
	mu    sync.Mutex
	state FileState
}

// NewFileStateMachine starts a path in the given initial state —
// typically StateSynced for a freshly hydrated file or
// StateModifiedLocal for one just written locally.
func NewFileStateMachine(initial FileState) *FileStateMachine {
	return &FileStateMachine{state: initial}
}

// State returns the current state.
func (m *FileStateMachine) State() FileState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TransitionTo moves to newState if the transition is valid, or
// returns a KindConflict error naming the rejected transition.
func (m *FileStateMachine) TransitionTo(newState FileState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range validTransitions[m.state] {
		if allowed == newState {
			m.state = newState
			return nil
		}
	}
	return tcfserrors.New(tcfserrors.KindConflict, "invalid file state transition: "+m.state.String()+" -> "+newState.String())
}
