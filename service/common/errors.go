// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"net/http"

	"github.com/xcherryio/flowengine/common/errs"
)

type ApiErrorResponse struct {
	Detail string `json:"detail"`
}

type ErrorWithStatus struct {
	StatusCode int
	Error      ApiErrorResponse
}

func NewErrorWithStatus(code int, details string) *ErrorWithStatus {
	return &ErrorWithStatus{
		StatusCode: code,
		Error: ApiErrorResponse{
			Detail: details,
		},
	}
}

// NewErrorFromEngine maps the error kinds of the engine to http status codes
func NewErrorFromEngine(err error) *ErrorWithStatus {
	return NewErrorWithStatus(StatusCodeOf(err), err.Error())
}

func StatusCodeOf(err error) int {
	switch {
	case errs.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errs.Is(err, errs.ErrInvalidArgument),
		errs.Is(err, errs.ErrUnsupportedOperation),
		errs.Is(err, errs.ErrActivityNotFound):
		return http.StatusBadRequest
	case errs.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden
	case errs.IsOptimisticLockingConflict(err), errs.Is(err, errs.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
