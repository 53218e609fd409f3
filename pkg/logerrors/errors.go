// Package logerrors collects the sentinel errors and the located exception
// type used across corelog, segment and backup. It is the Go rendering of
// the original LogException/HERE pairing: callers match on the sentinel with
// errors.Is, while Exception.Error() still carries a file:line for logs.
package logerrors

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrInsufficientCapacity is returned by corelog.New when logCapacity
	// does not cover even one segment.
	ErrInsufficientCapacity = errors.New("ramcloud: insufficient log memory for even one segment")

	// ErrAppendTooLarge is returned by Log.Append when length exceeds
	// GetMaximumAppendableBytes.
	ErrAppendTooLarge = errors.New("ramcloud: append exceeded maximum possible length")

	// ErrInvalidPointer is returned by Log.Free/Log.GetSegmentID when the
	// pointer does not fall within any live segment.
	ErrInvalidPointer = errors.New("ramcloud: free on invalid pointer")

	// ErrTypeAlreadyRegistered is returned by Log.RegisterType on a
	// duplicate registration.
	ErrTypeAlreadyRegistered = errors.New("ramcloud: type already registered with the log")

	// ErrNotEnoughBackups is logged by BackupManager.OpenSegment (which has
	// no error return) when the cluster's BACKUP count is below the
	// replication factor.
	ErrNotEnoughBackups = errors.New("ramcloud: not enough backups to meet replication requirement")

	// ErrSegmentAlreadyOpen is logged by BackupManager.OpenSegment when a
	// head segment's replicas are already open.
	ErrSegmentAlreadyOpen = errors.New("ramcloud: cannot select new backups when some are already open")

	// ErrNoCoordinator is returned by BackupManager.RefreshHostList when no
	// Coordinator was supplied to refresh the host list from.
	ErrNoCoordinator = errors.New("ramcloud: no coordinator given, replication requirements can't be met")
)

// Exception is a located error: it records the file:line of the call that
// raised it, the way the original HERE() macro stamped LogException.
type Exception struct {
	msg     string
	file    string
	line    int
	wrapped error
}

// New captures the caller's location and wraps msg into an *Exception.
func New(msg string) *Exception {
	_, file, line, _ := runtime.Caller(1)
	return &Exception{msg: msg, file: file, line: line}
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.file, e.line, e.msg)
}

// Unwrap lets errors.Is/As see through to a sentinel passed via Wrap.
func (e *Exception) Unwrap() error {
	return e.wrapped
}

// Wrap produces a located Exception whose Unwrap() returns sentinel, so
// errors.Is(err, logerrors.ErrAppendTooLarge) keeps working through the
// located wrapper.
func Wrap(sentinel error, context string) *Exception {
	_, file, line, _ := runtime.Caller(1)
	return &Exception{msg: context, file: file, line: line, wrapped: sentinel}
}
