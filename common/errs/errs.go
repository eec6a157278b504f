// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package errs defines the error categories surfaced by the engine.
// Every error created here carries a stack trace and a category mark, so that
// errors.Is(err, errs.ErrNotFound) keeps working after wrapping.
package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrOptimisticLockingConflict = errors.New("optimistic locking conflict")
	ErrNotFound                  = errors.New("not found")
	ErrInvalidArgument           = errors.New("invalid argument")
	ErrInvalidState              = errors.New("invalid state")
	ErrActivityNotFound          = errors.New("activity not found")
	ErrUnsupportedOperation      = errors.New("unsupported operation")
	ErrConfiguration             = errors.New("configuration error")
	ErrUnauthorized              = errors.New("unauthorized")
)

// Newf creates an error without category
func Newf(format string, args ...interface{}) error {
	return errors.NewWithDepthf(1, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrNotFound)
}

func InvalidArgument(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrInvalidArgument)
}

func InvalidState(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrInvalidState)
}

func ActivityNotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrActivityNotFound)
}

func UnsupportedOperation(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrUnsupportedOperation)
}

func Configuration(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrConfiguration)
}

func Unauthorized(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrUnauthorized)
}

// ConflictError is raised when a conditional write finds a revision other than the one it was loaded with.
type ConflictError struct {
	EntityType string
	Id         string
	Revision   int32
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was updated by another transaction concurrently (expected revision %d)",
		e.EntityType, e.Id, e.Revision)
}

func OptimisticLockingConflict(entityType, id string, revision int32) error {
	return errors.Mark(
		errors.WithStackDepth(&ConflictError{EntityType: entityType, Id: id, Revision: revision}, 1),
		ErrOptimisticLockingConflict)
}

// Is reports whether err carries the mark of a category, or is the target itself
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func IsOptimisticLockingConflict(err error) bool {
	return errors.Is(err, ErrOptimisticLockingConflict)
}

func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable tells whether re-running the same command from scratch can succeed.
func IsRetryable(err error) bool {
	return IsOptimisticLockingConflict(err)
}

// Wrap adds context to an error while keeping its category.
func Wrap(err error, msg string) error {
	return errors.WrapWithDepth(1, err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.WrapWithDepthf(1, err, format, args...)
}

// Stacktrace renders the error with its causes and stack, truncated to maxSize bytes when maxSize > 0.
func Stacktrace(err error, maxSize int) string {
	if err == nil {
		return ""
	}
	s := fmt.Sprintf("%+v", err)
	if maxSize > 0 && len(s) > maxSize {
		return s[:maxSize]
	}
	return s
}

// Truncate cuts a message down to maxSize bytes.
func Truncate(msg string, maxSize int) string {
	if maxSize > 0 && len(msg) > maxSize {
		return msg[:maxSize]
	}
	return msg
}
