package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// SyncError carries the entity/table/row position a failure happened at.
type SyncError struct {
	Entity   string
	Table    string
	Stage    string
	rowIndex *int
	Message  string
	cause    error
}

func NewSyncError(msg string) *SyncError {
	return &SyncError{Message: msg}
}

// NewSyncErrorf creates a new SyncError with a formatted message. A %w verb keeps
// the wrapped error reachable through errors.Unwrap.
func NewSyncErrorf(format string, args ...any) *SyncError {
	err := fmt.Errorf(format, args...)
	return &SyncError{
		Message: err.Error(),
		cause:   errors.Unwrap(err),
	}
}

func WrapSyncError(e error) *SyncError {
	if e == nil {
		return nil
	}

	var syncErr *SyncError
	if errors.As(e, &syncErr) {
		return syncErr
	}

	return &SyncError{
		Message: e.Error(),
		cause:   e,
	}
}

func (e *SyncError) Error() string {
	path := []string{}
	if e.Entity != "" {
		path = append(path, fmt.Sprintf("entity '%s'", e.Entity))
	}
	if e.Table != "" {
		path = append(path, fmt.Sprintf("table '%s'", e.Table))
	}
	if e.rowIndex != nil {
		path = append(path, fmt.Sprintf("row %d", *e.rowIndex))
	}
	if e.Stage != "" {
		path = append(path, fmt.Sprintf("stage '%s'", e.Stage))
	}

	if len(path) == 0 {
		return e.Message
	}

	return strings.Join(path, " -> ") + ": " + e.Message
}

func (e *SyncError) Unwrap() error {
	return e.cause
}

func (e *SyncError) AddEntity(entity string) *SyncError {
	e.Entity = entity
	return e
}

func (e *SyncError) AddTable(table string) *SyncError {
	e.Table = table
	return e
}

func (e *SyncError) AddStage(stage string) *SyncError {
	e.Stage = stage
	return e
}

func (e *SyncError) AddRow(index int) *SyncError {
	e.rowIndex = &index
	return e
}

// RowIndex returns the source row index, or -1 when the error is not row scoped.
func (e *SyncError) RowIndex() int {
	if e.rowIndex == nil {
		return -1
	}
	return *e.rowIndex
}

func (e *SyncError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusInternalServerError, e.Error()).AddMetaValue("entity", e.Entity).AddMetaValue("table", e.Table).AddMetaValue("stage", e.Stage)
}

func IsSyncError(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr)
}

// ConfigError is raised for manifest/schema/driver problems before any row is processed.
type ConfigError struct {
	Subject string
	Message string
}

func NewConfigError(subject, msg string) *ConfigError {
	return &ConfigError{Subject: subject, Message: msg}
}

func NewConfigErrorf(subject, format string, args ...any) *ConfigError {
	return &ConfigError{Subject: subject, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Subject == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error in '%s': %s", e.Subject, e.Message)
}

func (e *ConfigError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error()).AddMetaValue("subject", e.Subject)
}

func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// ErrBusy is matched by every BusyError via errors.Is.
var ErrBusy = errors.New("sync already running")

// BusyError signals that another sync holds the target. It is not retried.
type BusyError struct {
	Resource string
}

func NewBusyError(resource string) *BusyError {
	return &BusyError{Resource: resource}
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBusy.Error(), e.Resource)
}

func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

func (e *BusyError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("resource", e.Resource)
}

func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
