// Package catalogmodel defines the record shapes the catalog gateway reads
// and writes — files, archives, stage entries and failure rows — plus the
// two small wire encodings spec.md pins down exactly: the file state
// string and the BFID archive URL.
package catalogmodel

import "strings"

// State is a file record's lifecycle state. It round-trips the exact
// string encoding the catalog stores ("new", "added: <path>", ...) rather
// than a Go-native enum, because the bfid-writer and verify_container
// scripts this module coexists with in production read that string
// directly.
type State struct {
	Phase     Phase
	Container string // non-empty for added/archived/verified
}

// Phase is the lifecycle phase a State is in, independent of which
// container (if any) it names.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseAdded
	PhaseArchived
	PhaseVerified
	PhaseDownloadFailed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseAdded:
		return "added"
	case PhaseArchived:
		return "archived"
	case PhaseVerified:
		return "verified"
	case PhaseDownloadFailed:
		return "download failed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// New is the initial state of every freshly-catalogued file.
func New() State { return State{Phase: PhaseNew} }

// Added reports a file claimed into container path.
func Added(path string) State { return State{Phase: PhaseAdded, Container: path} }

// Archived reports a file sealed into container path.
func Archived(path string) State { return State{Phase: PhaseArchived, Container: path} }

// Verified reports a file confirmed present in the uploaded container path.
func Verified(path string) State { return State{Phase: PhaseVerified, Container: path} }

// DownloadFailed reports the replica fetcher exhausted its retries.
func DownloadFailed() State { return State{Phase: PhaseDownloadFailed} }

// Failed reports a terminal, operator-visible failure unrelated to fetch.
func Failed() State { return State{Phase: PhaseFailed} }

// String renders the state in the catalog's wire format.
func (s State) String() string {
	switch s.Phase {
	case PhaseAdded, PhaseArchived, PhaseVerified:
		return s.Phase.String() + ": " + s.Container
	default:
		return s.Phase.String()
	}
}

// ParseState parses the catalog's wire format for a file state string.
func ParseState(raw string) (State, error) {
	raw = strings.TrimSpace(raw)

	if idx := strings.Index(raw, ":"); idx >= 0 {
		phaseStr := strings.TrimSpace(raw[:idx])
		container := strings.TrimSpace(raw[idx+1:])

		var phase Phase
		switch phaseStr {
		case "added":
			phase = PhaseAdded
		case "archived":
			phase = PhaseArchived
		case "verified":
			phase = PhaseVerified
		default:
			return State{}, errInvalidState(raw)
		}
		return State{Phase: phase, Container: container}, nil
	}

	switch raw {
	case "new":
		return New(), nil
	case "download failed":
		return DownloadFailed(), nil
	case "failed":
		return Failed(), nil
	default:
		return State{}, errInvalidState(raw)
	}
}

type invalidStateError string

func (e invalidStateError) Error() string { return "catalogmodel: invalid file state: " + string(e) }

func errInvalidState(raw string) error { return invalidStateError(raw) }
