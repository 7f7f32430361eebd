package fleet

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/tcfs-dev/tcfs/internal/clock"
	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
	"github.com/tcfs-dev/tcfs/internal/manifest"
)

// ConflictMode selects the conflict-resolution strategy (spec section
// 4.6.4 and section 6: `sync.conflict_mode`).
type ConflictMode string

const (
	ConflictModeAuto        ConflictMode = "auto"
	ConflictModeInteractive ConflictMode = "interactive"
	ConflictModeDefer       ConflictMode = "defer"
)

// Resolution is the conflict resolver's verdict (spec section 4.6.4).
type Resolution int

const (
	ResolutionKeepLocal Resolution = iota
	ResolutionKeepRemote
	ResolutionKeepBoth
	ResolutionDefer
)

func (r Resolution) String() string {
	switch r {
	case ResolutionKeepLocal:
		return "KeepLocal"
	case ResolutionKeepRemote:
		return "KeepRemote"
	case ResolutionKeepBoth:
		return "KeepBoth"
	case ResolutionDefer:
		return "Defer"
	default:
		return "Unknown"
	}
}

// ConflictOutcome carries a Resolution plus the sibling path the
// caller should materialize the losing copy under, so a Concurrent
// write never vanishes without a trace (spec section 4.6.4). Unset
// only for ResolutionDefer, which has no loser yet.
type ConflictOutcome struct {
	Resolution  Resolution
	SiblingPath string
}

// Resolver implements the policy-selected conflict function of spec
// section 4.6.4: `(path, local_manifest, remote_manifest) ->
// {KeepLocal, KeepRemote, KeepBoth, Defer}`.
type Resolver struct {
	Mode          ConflictMode
	LocalDeviceID string
}

// Resolve decides how to reconcile a Concurrent local/remote manifest
// pair for path.
//
//   - auto: deterministic tie-break by lexicographic device-id
//     comparison between the two devices whose clock entries
//     dominate; the losing side is kept as a sibling file.
//   - interactive: always Defer; the caller surfaces the conflict to
//     a human and calls Resolve again later with the human's choice
//     folded into one manifest's clock.
//   - defer: always Defer, with no human follow-up expected.
func (r *Resolver) Resolve(path string, local, remote *manifest.Manifest, remoteDeviceID string) ConflictOutcome {
	switch r.Mode {
	case ConflictModeInteractive, ConflictModeDefer:
		return ConflictOutcome{Resolution: ResolutionDefer}
	case ConflictModeAuto:
		fallthrough
	default:
		if r.LocalDeviceID < remoteDeviceID {
			return ConflictOutcome{Resolution: ResolutionKeepLocal, SiblingPath: conflictSiblingPath(path, remoteDeviceID)}
		}
		return ConflictOutcome{Resolution: ResolutionKeepRemote, SiblingPath: conflictSiblingPath(path, r.LocalDeviceID)}
	}
}

// conflictSiblingPath names the losing copy with a suffix that
// preserves provenance (spec section 4.6.4: "a suffix that preserves
// provenance").
func conflictSiblingPath(path, loserDeviceID string) string {
	return path + ".conflict-" + loserDeviceID
}

// signableConflict is the canonical JSON form signed over a
// ConflictResolved event, grounded on the teacher's
// SignVerificationResult canonicalization.
type signableConflict struct {
	Path         string `json:"path"`
	ChosenDevice string `json:"chosen_device"`
	Strategy     string `json:"strategy"`
}

// SignConflictResolution signs a ConflictResolved event's essential
// fields with the resolving device's identity key, so peers can
// authenticate resolution provenance (spec section 4.6: grounded on
// the teacher's Ed25519-signed verification-result pattern).
func SignConflictResolution(priv ed25519.PrivateKey, path, chosenDevice, strategy string) ([]byte, error) {
	canonical, err := json.Marshal(signableConflict{Path: path, ChosenDevice: chosenDevice, Strategy: strategy})
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "marshal conflict resolution for signing", err)
	}
	return ed25519.Sign(priv, canonical), nil
}

// VerifyConflictResolution checks a signature produced by
// SignConflictResolution.
func VerifyConflictResolution(pub ed25519.PublicKey, path, chosenDevice, strategy string, sig []byte) bool {
	canonical, err := json.Marshal(signableConflict{Path: path, ChosenDevice: chosenDevice, Strategy: strategy})
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, canonical, sig)
}

// TickAndMerge merges the remote clock into local and ticks self once,
// matching spec section 4.6.4's "resolver must tick self once before
// publishing".
func TickAndMerge(local, remote clock.Clock, self string) clock.Clock {
	merged := clock.Merge(local, remote)
	return clock.Tick(merged, self)
}
