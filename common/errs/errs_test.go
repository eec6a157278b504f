// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package errs

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestCategoriesSurviveWrapping(t *testing.T) {
	err := NotFound("job %s not found", "j1")
	wrapped := Wrap(err, "recalculate due date")
	wrappedTwice := fmt.Errorf("outer: %w", wrapped)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.True(t, errors.Is(wrappedTwice, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrInvalidArgument))
	assert.Contains(t, wrapped.Error(), "job j1 not found")
}

func TestConflictError(t *testing.T) {
	err := OptimisticLockingConflict("job", "j1", 3)

	assert.True(t, IsOptimisticLockingConflict(err))
	assert.True(t, IsRetryable(err))
	ce, ok := AsConflict(Wrap(err, "flush"))
	assert.True(t, ok)
	assert.Equal(t, "j1", ce.Id)
	assert.Equal(t, int32(3), ce.Revision)

	assert.False(t, IsRetryable(InvalidState("ended")))
	_, ok = AsConflict(InvalidState("ended"))
	assert.False(t, ok)
}

func TestStacktrace(t *testing.T) {
	err := InvalidArgument("bad input")
	full := Stacktrace(err, 0)
	assert.True(t, strings.Contains(full, "bad input"))
	assert.True(t, len(full) > len("bad input"))

	assert.Equal(t, 10, len(Stacktrace(err, 10)))
	assert.Equal(t, "", Stacktrace(nil, 10))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
