package models

import (
	"sort"
	"time"
)

// SessionState is the lifecycle state of a persisted workflow session.
type SessionState string

const (
	SessionActive    SessionState = "ACTIVE"
	SessionPaused    SessionState = "PAUSED"
	SessionCompleted SessionState = "COMPLETED"
	SessionFailed    SessionState = "FAILED"
	SessionResumed   SessionState = "RESUMED"
)

// Valid returns true if the state is a known value.
func (s SessionState) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionCompleted, SessionFailed, SessionResumed:
		return true
	default:
		return false
	}
}

// Progressing reports whether packets may still advance completion.
func (s SessionState) Progressing() bool {
	return s == SessionActive || s == SessionResumed
}

// Terminal reports whether the session is finished and eligible for expiry.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// WorkflowSession is the durable state of one long-running workflow.
type WorkflowSession struct {
	SessionID            string            `json:"session_id"`
	WorkflowName         string            `json:"workflow_name"`
	StartedAt            float64           `json:"started_at"`
	UpdatedAt            float64           `json:"updated_at"`
	State                SessionState      `json:"state"`
	HandoffPackets       []*HandoffPacket  `json:"handoff_packets"`
	CurrentAgent         string            `json:"current_agent"`
	NextSuggestedAgent   string            `json:"next_suggested_agent"`
	CompletionPercentage float64           `json:"completion_percentage"`
	Checkpoints          map[string]bool   `json:"checkpoints"`
	Metadata             map[string]string `json:"metadata"`
}

// Resumable reports whether the session can be resumed: it must be paused or
// failed and hold at least one packet.
func (s *WorkflowSession) Resumable() bool {
	return (s.State == SessionPaused || s.State == SessionFailed) && len(s.HandoffPackets) > 0
}

// IsCheckpoint reports whether taskID was recorded as a checkpoint.
func (s *WorkflowSession) IsCheckpoint(taskID string) bool {
	return s.Checkpoints[taskID]
}

// CheckpointIDs returns the checkpoint task ids in sorted order.
func (s *WorkflowSession) CheckpointIDs() []string {
	ids := make([]string, 0, len(s.Checkpoints))
	for id := range s.Checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastPacket returns the most recent packet or nil.
func (s *WorkflowSession) LastPacket() *HandoffPacket {
	if len(s.HandoffPackets) == 0 {
		return nil
	}
	return s.HandoffPackets[len(s.HandoffPackets)-1]
}

// Clone returns a deep copy of the session.
func (s *WorkflowSession) Clone() *WorkflowSession {
	if s == nil {
		return nil
	}
	c := *s
	c.HandoffPackets = make([]*HandoffPacket, len(s.HandoffPackets))
	for i, p := range s.HandoffPackets {
		c.HandoffPackets[i] = p.Clone()
	}
	c.Checkpoints = make(map[string]bool, len(s.Checkpoints))
	for k, v := range s.Checkpoints {
		c.Checkpoints[k] = v
	}
	c.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// EpochSeconds converts t to the fractional epoch representation used for
// session timestamps.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpochSeconds converts an epoch float back to a time.
func FromEpochSeconds(f float64) time.Time {
	return time.Unix(0, int64(f*float64(time.Second)))
}
