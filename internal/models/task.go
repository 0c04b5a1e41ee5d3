package models

import "time"

// TaskStatus is the lifecycle state of an assigned task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// Task represents a task assigned to a worker.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	AssignedTo  string     `json:"assigned_to"`
	Status      TaskStatus `json:"status"`
	Notes       *string    `json:"notes,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return TableTasks
}

// IsActive reports whether the task still belongs on a worker's active list.
func (t Task) IsActive() bool {
	return t.Status != TaskStatusCompleted
}

// Apply returns a copy of t with the task fields in p applied.
// Fields outside the task schema are ignored.
func (t Task) Apply(p Patch) Task {
	for name, v := range p {
		switch name {
		case "status":
			if s, ok := v.Str(); ok {
				t.Status = TaskStatus(s)
			}
		case "title":
			if s, ok := v.Str(); ok {
				t.Title = s
			}
		case "notes":
			t.Notes = nil
			if s, ok := v.Str(); ok {
				t.Notes = &s
			}
		case "completed_at":
			t.CompletedAt = nil
			if ts, ok := v.Time(); ok {
				t.CompletedAt = &ts
			}
		case "due_date":
			t.DueDate = nil
			if ts, ok := v.Time(); ok {
				t.DueDate = &ts
			}
		}
	}
	return t
}

// CompletionPatch is the update sent when a worker marks a task done.
func CompletionPatch(at time.Time) Patch {
	return Patch{
		"status":       String(string(TaskStatusCompleted)),
		"completed_at": Time(at),
	}
}

// StatusPatch is the update sent for a status change. Leaving completed
// clears completed_at.
func StatusPatch(status TaskStatus, at time.Time) Patch {
	if status == TaskStatusCompleted {
		return CompletionPatch(at)
	}
	return Patch{
		"status":       String(string(status)),
		"completed_at": Null(),
	}
}
