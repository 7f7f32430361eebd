// Package eventstream implements the fleet's durable pub/sub bus
// (spec section 4.6.1): a subject-hierarchy stream carrying
// StateEvents between devices, with at-least-once delivery and
// per-device durable consumer cursors.
package eventstream

import (
	"fmt"
	"time"

	"github.com/tcfs-dev/tcfs/internal/clock"
)

// EventType classifies a StateEvent (spec section 3: "State event").
type EventType string

const (
	EventFileSynced      EventType = "FileSynced"
	EventFileDeleted     EventType = "FileDeleted"
	EventFileRenamed     EventType = "FileRenamed"
	EventDeviceOnline    EventType = "DeviceOnline"
	EventDeviceOffline   EventType = "DeviceOffline"
	EventConflictResolved EventType = "ConflictResolved"
)

// StateEvent is the fleet-wide message tagged union. Not every field
// applies to every EventType; callers should only read the fields
// documented for the event's Type.
type StateEvent struct {
	Type      EventType   `json:"type"`
	DeviceID  string      `json:"device_id"`
	Timestamp time.Time   `json:"timestamp"` // wall clock, display only (spec section 3)

	// FileSynced, FileDeleted, FileRenamed (ConflictResolved also
	// sets Path and VectorClock)
	Path        string      `json:"path,omitempty"`
	OldPath     string      `json:"old_path,omitempty"` // FileRenamed only
	FileHash    string      `json:"file_hash,omitempty"`
	VectorClock clock.Clock `json:"vector_clock,omitempty"`

	// ConflictResolved
	ChosenDevice string `json:"chosen_device,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
	Signature    []byte `json:"signature,omitempty"` // ed25519, over (path, chosen_device, strategy)
}

// Subject returns the subject hierarchy string "STATE.{device_id}.{event_type}"
// (spec section 4.6.1).
func Subject(deviceID string, eventType EventType) string {
	return fmt.Sprintf("STATE.%s.%s", deviceID, eventType)
}

// NewFileSynced builds a FileSynced event published after a successful
// push (spec section 4.6.2, step 5).
func NewFileSynced(deviceID, path, fileHash string, vc clock.Clock) StateEvent {
	return StateEvent{
		Type:        EventFileSynced,
		DeviceID:    deviceID,
		Timestamp:   time.Now(),
		Path:        path,
		FileHash:    fileHash,
		VectorClock: vc,
	}
}

// NewFileDeleted builds a FileDeleted event.
func NewFileDeleted(deviceID, path string, vc clock.Clock) StateEvent {
	return StateEvent{
		Type:        EventFileDeleted,
		DeviceID:    deviceID,
		Timestamp:   time.Now(),
		Path:        path,
		VectorClock: vc,
	}
}

// NewFileRenamed builds a FileRenamed event.
func NewFileRenamed(deviceID, oldPath, newPath string, vc clock.Clock) StateEvent {
	return StateEvent{
		Type:        EventFileRenamed,
		DeviceID:    deviceID,
		Timestamp:   time.Now(),
		Path:        newPath,
		OldPath:     oldPath,
		VectorClock: vc,
	}
}

// NewDeviceOnline builds a DeviceOnline presence event.
func NewDeviceOnline(deviceID string) StateEvent {
	return StateEvent{Type: EventDeviceOnline, DeviceID: deviceID, Timestamp: time.Now()}
}

// NewDeviceOffline builds a DeviceOffline presence event.
func NewDeviceOffline(deviceID string) StateEvent {
	return StateEvent{Type: EventDeviceOffline, DeviceID: deviceID, Timestamp: time.Now()}
}

// NewConflictResolved builds a ConflictResolved event (spec section
// 4.6.4: published after a non-Defer resolution, after the resolver
// ticks self once). sig is the resolving device's signature over the
// event's essential fields, so peers can authenticate the resolution
// before trusting it; nil if the publisher holds no signing key.
func NewConflictResolved(deviceID, path, chosenDevice, strategy string, vc clock.Clock, sig []byte) StateEvent {
	return StateEvent{
		Type:         EventConflictResolved,
		DeviceID:     deviceID,
		Timestamp:    time.Now(),
		Path:         path,
		ChosenDevice: chosenDevice,
		Strategy:     strategy,
		VectorClock:  vc,
		Signature:    sig,
	}
}
