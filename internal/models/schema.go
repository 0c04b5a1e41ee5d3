package models

import (
	apperrors "github.com/sitecrew/worksync/internal/errors"
)

// Field describes one patchable column.
type Field struct {
	Kind     Kind
	Nullable bool
}

// Schema lists, per collection, the fields a queued patch may touch.
type Schema map[string]map[string]Field

// Table names known to the default schema.
const (
	TableTasks           = "tasks"
	TableDailyAssignment = "daily_task_assignments"
)

// DefaultSchema returns the collections workers can mutate from the device.
func DefaultSchema() Schema {
	return Schema{
		TableTasks: {
			"status":       {Kind: KindString},
			"completed_at": {Kind: KindTime, Nullable: true},
			"notes":        {Kind: KindString, Nullable: true},
			"title":        {Kind: KindString},
			"due_date":     {Kind: KindTime, Nullable: true},
		},
		TableDailyAssignment: {
			"status":       {Kind: KindString},
			"completed_at": {Kind: KindTime, Nullable: true},
		},
	}
}

// Validate checks a patch against the fields declared for table.
func (s Schema) Validate(table, recordID string, patch Patch) error {
	if recordID == "" {
		return apperrors.New(apperrors.ErrValidation, "record id is required")
	}
	fields, ok := s[table]
	if !ok {
		return apperrors.Newf(apperrors.ErrValidation, "unknown table %q", table)
	}
	if len(patch) == 0 {
		return apperrors.New(apperrors.ErrValidation, "patch is empty")
	}

	for _, name := range patch.Fields() {
		value := patch[name]
		field, ok := fields[name]
		if !ok {
			return apperrors.Newf(apperrors.ErrValidation, "unknown field %q on %s", name, table)
		}
		if value.IsNull() {
			if !field.Nullable {
				return apperrors.Newf(apperrors.ErrValidation, "field %s.%s is not nullable", table, name)
			}
			continue
		}
		if value.Kind() != field.Kind {
			return apperrors.Newf(apperrors.ErrValidation, "field %s.%s expects %s, got %s",
				table, name, field.Kind, value.Kind())
		}
		if table == TableTasks && name == "status" {
			str, _ := value.Str()
			if !TaskStatus(str).Valid() {
				return apperrors.Newf(apperrors.ErrValidation, "invalid task status %q", str)
			}
		}
	}
	return nil
}
