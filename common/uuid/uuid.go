// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// MustNewUUID returns a time ordered (v7) uuid string
func MustNewUUID() string {
	newUuid, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return newUuid.String()
}

func ParseUUID(s string) (string, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID string: %s", s)
	}
	return parsed.String(), nil
}

func MustParseUUID(s string) string {
	parsed, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return parsed
}
