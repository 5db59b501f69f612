package engine

import (
	"errors"
	"fmt"
)

// Error kinds produced by a sync run. Every error returned by Syncer.Run wraps one of them.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrSourceFetch   = errors.New("timetable fetch failed")
	ErrProviderAuth  = errors.New("calendar authentication failed")
	ErrEventUpsert   = errors.New("calendar event push failed")
)

// UpsertError reports the failure of a single remote event operation.
// errors.Is matches both ErrEventUpsert and the underlying cause.
type UpsertError struct {
	Op      string
	EventID string
	Err     error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrEventUpsert, e.Op, e.EventID, e.Err)
}

func (e *UpsertError) Unwrap() []error {
	return []error{ErrEventUpsert, e.Err}
}

// Remote operation names carried in UpsertError.Op.
const (
	OpFind   = "find"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpList   = "list"
)
