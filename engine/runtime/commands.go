// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"github.com/xcherryio/flowengine/engine/authorization"
	"github.com/xcherryio/flowengine/engine/command"
)

// guarded is a command that declares the permissions it needs before it runs
type guarded struct {
	name   string
	checks []authorization.Check
	fn     func(cctx *command.Context) error
}

func newGuarded(
	name string, permission authorization.Permission, resourceType authorization.ResourceType, resourceId string,
	fn func(cctx *command.Context) error,
) *guarded {
	if resourceId == "" {
		resourceId = authorization.AnyResource
	}
	return &guarded{
		name:   name,
		checks: []authorization.Check{{Permission: permission, ResourceType: resourceType, ResourceId: resourceId}},
		fn:     fn,
	}
}

func (c *guarded) Name() string {
	return c.name
}

func (c *guarded) AuthorizationChecks(*command.Context) ([]authorization.Check, error) {
	return c.checks, nil
}

func (c *guarded) Execute(cctx *command.Context) error {
	return c.fn(cctx)
}
