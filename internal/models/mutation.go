package models

import "time"

// QueuedMutation is a pending write recorded while the device was offline.
// Values are never modified after creation.
type QueuedMutation struct {
	ID        string `json:"id"`
	Table     string `json:"table"`
	RecordID  string `json:"recordId"`
	Patch     Patch  `json:"patch"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds at enqueue
}

// EnqueuedAt returns Timestamp as a time.Time.
func (m QueuedMutation) EnqueuedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Key identifies the target record across collections.
func (m QueuedMutation) Key() string {
	return m.Table + "/" + m.RecordID
}
