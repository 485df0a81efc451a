package domain

// RevocationStatus is the store credential state reported by the cloud
// when a sync session starts.
type RevocationStatus string

const (
	RevocationValid     RevocationStatus = "VALID"
	RevocationSuspended RevocationStatus = "SUSPENDED"
	RevocationRevoked   RevocationStatus = "REVOKED"
	RevocationRotated   RevocationStatus = "ROTATED"
)

// SessionInfo is the cloud's response to a session start.
type SessionInfo struct {
	SessionID        string           `json:"session_id"`
	RevocationStatus RevocationStatus `json:"revocation_status"`
	PullPendingCount int              `json:"pull_pending_count"`
	LockoutMessage   string           `json:"lockout_message,omitempty"`
}

// CycleStats accumulates push/pull totals over one sync cycle.
type CycleStats struct {
	Pushed            int `json:"pushed"`
	Pulled            int `json:"pulled"`
	ConflictsResolved int `json:"conflicts_resolved"`
}

// Add merges a delta into the running totals.
func (s *CycleStats) Add(delta CycleStats) {
	s.Pushed += delta.Pushed
	s.Pulled += delta.Pulled
	s.ConflictsResolved += delta.ConflictsResolved
}
