// Package models tests for patch values, schema validation and tasks.
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sitecrew/worksync/internal/errors"
)

// =====================================================
// Value / Patch encoding
// =====================================================

func TestPatch_persistedRoundTripKeepsKinds(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	patch := Patch{
		"status":       String("completed"),
		"completed_at": Time(at),
		"notes":        Null(),
		"count":        Int(3),
		"ratio":        Float(0.5),
		"flag":         Bool(true),
	}

	data, err := json.Marshal(patch)
	require.NoError(t, err)

	var decoded Patch
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, patch, decoded)
	assert.Equal(t, KindInt, decoded["count"].Kind())
	ts, ok := decoded["completed_at"].Time()
	require.True(t, ok)
	assert.True(t, ts.Equal(at))
}

func TestValue_UnmarshalJSON_rejectsUnknownType(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"type":"blob","value":"x"}`), &v)
	assert.Error(t, err)
}

func TestPatch_Plain(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	body := CompletionPatch(at).Plain()

	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["completed_at"])

	body = StatusPatch(TaskStatusPending, at).Plain()
	assert.Nil(t, body["completed_at"])
	assert.Contains(t, body, "completed_at")
}

func TestValue_zeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, "null", v.String())
}

func TestPatch_CloneIsIndependent(t *testing.T) {
	p := Patch{"status": String("pending")}
	c := p.Clone()
	c["status"] = String("completed")

	s, _ := p["status"].Str()
	assert.Equal(t, "pending", s)
}

// =====================================================
// Schema validation
// =====================================================

func TestSchema_Validate(t *testing.T) {
	schema := DefaultSchema()
	now := time.Now()

	tests := []struct {
		name     string
		table    string
		recordID string
		patch    Patch
		wantErr  bool
	}{
		{"completion", TableTasks, "t1", CompletionPatch(now), false},
		{"reopen clears completed_at", TableTasks, "t1", StatusPatch(TaskStatusPending, now), false},
		{"assignment", TableDailyAssignment, "a1", Patch{"status": String("completed")}, false},
		{"unknown table", "projects", "p1", Patch{"status": String("x")}, true},
		{"unknown field", TableTasks, "t1", Patch{"colour": String("red")}, true},
		{"kind mismatch", TableTasks, "t1", Patch{"status": Bool(true)}, true},
		{"not nullable", TableTasks, "t1", Patch{"status": Null()}, true},
		{"bad status", TableTasks, "t1", Patch{"status": String("archived")}, true},
		{"empty patch", TableTasks, "t1", Patch{}, true},
		{"missing record", TableTasks, "", CompletionPatch(now), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.table, tt.recordID, tt.patch)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
		})
	}
}

// =====================================================
// Task
// =====================================================

func TestTask_Apply(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	task := Task{ID: "t1", Status: TaskStatusPending}

	done := task.Apply(CompletionPatch(at))
	assert.Equal(t, TaskStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(at))
	assert.False(t, done.IsActive())

	// original untouched
	assert.Equal(t, TaskStatusPending, task.Status)

	reopened := done.Apply(StatusPatch(TaskStatusInProgress, at))
	assert.Equal(t, TaskStatusInProgress, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)
	assert.True(t, reopened.IsActive())
}

func TestQueuedMutation_helpers(t *testing.T) {
	m := QueuedMutation{Table: TableTasks, RecordID: "t9", Timestamp: 1700000000123}
	assert.Equal(t, "tasks/t9", m.Key())
	assert.Equal(t, int64(1700000000123), m.EnqueuedAt().UnixMilli())
}
