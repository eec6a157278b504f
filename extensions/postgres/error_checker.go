// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/xcherryio/flowengine/extensions"
)

const ErrDupEntry = "23505"

const ErrInsufficientResources = "53000"
const ErrTooManyConnections = "53300"
const ErrQueryCanceled = "57014"

type errorChecker struct{}

var _ extensions.ErrorChecker = errorChecker{}

func (errorChecker) IsDupEntryError(err error) bool {
	var sqlErr *pq.Error
	ok := errors.As(err, &sqlErr)
	return ok && sqlErr.Code == ErrDupEntry
}

func (errorChecker) IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (errorChecker) IsTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sqlErr *pq.Error
	ok := errors.As(err, &sqlErr)
	return ok && sqlErr.Code == ErrQueryCanceled
}

func (errorChecker) IsThrottlingError(err error) bool {
	var sqlErr *pq.Error
	ok := errors.As(err, &sqlErr)
	if ok {
		if sqlErr.Code == ErrTooManyConnections ||
			sqlErr.Code == ErrInsufficientResources {
			return true
		}
	}
	return false
}
