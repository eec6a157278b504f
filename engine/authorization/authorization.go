// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
)

type Permission string

const (
	PermissionRead           Permission = "READ"
	PermissionUpdate         Permission = "UPDATE"
	PermissionCreate         Permission = "CREATE"
	PermissionDelete         Permission = "DELETE"
	PermissionCreateInstance Permission = "CREATE_INSTANCE"
)

type ResourceType string

const (
	ResourceProcessDefinition ResourceType = "ProcessDefinition"
	ResourceProcessInstance   ResourceType = "ProcessInstance"
	ResourceDeployment        ResourceType = "Deployment"
	ResourceJob               ResourceType = "Job"
)

// AnyResource is the resource id of checks that are not about one resource
const AnyResource = "*"

type Check struct {
	Permission   Permission
	ResourceType ResourceType
	ResourceId   string
}

// Checker is implemented outside the engine, the engine only asks it
type Checker interface {
	IsAuthorized(ctx context.Context, subject string, check Check) (bool, error)
}

type allowAll struct{}

func NewAllowAllChecker() Checker {
	return allowAll{}
}

func (allowAll) IsAuthorized(context.Context, string, Check) (bool, error) {
	return true, nil
}

// CheckerFunc adapts a function to a Checker
type CheckerFunc func(ctx context.Context, subject string, check Check) (bool, error)

func (f CheckerFunc) IsAuthorized(ctx context.Context, subject string, check Check) (bool, error) {
	return f(ctx, subject, check)
}

type subjectKey struct{}

func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFrom returns the authenticated subject of the call, empty for internal calls
func SubjectFrom(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}
