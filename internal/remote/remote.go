// Package remote talks to the hosted task backend.
package remote

import (
	"context"

	"github.com/sitecrew/worksync/internal/models"
)

// Updater applies a partial update to one record of a collection.
type Updater interface {
	Update(ctx context.Context, table, recordID string, patch models.Patch) error
}

// TaskFetcher lists the active tasks assigned to a worker.
type TaskFetcher interface {
	ListTasks(ctx context.Context, assignee string) ([]models.Task, error)
}

// API is the full capability set the device needs from the backend.
type API interface {
	Updater
	TaskFetcher
}
