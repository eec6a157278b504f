// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package tree moves process instances through their definitions.
// A process instance is a tree of executions: the root is the instance itself, concurrent children
// are the parallel paths of a scope. The tree is loaded into an arena for the length of one command
// and every change goes through the command's session.
package tree

import (
	"sort"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/persistence"
)

// Tree holds the executions of one process instance by id, parent and children are ids.
// Ended non root executions are kept apart by parent until their scope completes.
type Tree struct {
	root       *persistence.Execution
	executions map[string]*persistence.Execution
	children   map[string][]string
	ended      map[string][]*persistence.Execution
}

func newTree(root *persistence.Execution) *Tree {
	return &Tree{
		root:       root,
		executions: map[string]*persistence.Execution{root.Id: root},
		children:   map[string][]string{},
		ended:      map[string][]*persistence.Execution{},
	}
}

// Load reads the executions of a process instance through the command's session
func Load(cctx *command.Context, processInstanceId string) (*Tree, error) {
	executions, err := cctx.Session.FindExecutions(cctx.Context(), persistence.ExecutionQuery{
		ProcessInstanceId: processInstanceId,
	})
	if err != nil {
		return nil, err
	}
	var t *Tree
	for _, e := range executions {
		if e.IsProcessInstance() {
			t = newTree(e)
		}
	}
	if t == nil {
		return nil, errs.NotFound("process instance %s does not exist", processInstanceId)
	}
	// executions come ordered by creation time, so children lists are ordered too
	for _, e := range executions {
		if e.IsProcessInstance() {
			continue
		}
		if e.IsEnded {
			t.ended[e.ParentId] = append(t.ended[e.ParentId], e)
			continue
		}
		t.executions[e.Id] = e
		t.children[e.ParentId] = append(t.children[e.ParentId], e.Id)
	}
	return t, nil
}

func (t *Tree) Root() *persistence.Execution {
	return t.root
}

func (t *Tree) Get(id string) (*persistence.Execution, bool) {
	e, ok := t.executions[id]
	return e, ok
}

func (t *Tree) Parent(e *persistence.Execution) *persistence.Execution {
	if e.ParentId == "" {
		return nil
	}
	return t.executions[e.ParentId]
}

func (t *Tree) Children(id string) []*persistence.Execution {
	children := make([]*persistence.Execution, 0, len(t.children[id]))
	for _, childId := range t.children[id] {
		children = append(children, t.executions[childId])
	}
	return children
}

// Leaves returns the executions without children, ordered by creation
func (t *Tree) Leaves() []*persistence.Execution {
	var leaves []*persistence.Execution
	for id, e := range t.executions {
		if len(t.children[id]) == 0 {
			leaves = append(leaves, e)
		}
	}
	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].CreateTime.Equal(leaves[j].CreateTime) {
			return leaves[i].Id < leaves[j].Id
		}
		return leaves[i].CreateTime.Before(leaves[j].CreateTime)
	})
	return leaves
}

// Ended returns the ended executions directly below id
func (t *Tree) Ended(id string) []*persistence.Execution {
	return t.ended[id]
}

// Descendants returns the live subtree below id, deepest first
func (t *Tree) Descendants(id string) []*persistence.Execution {
	var result []*persistence.Execution
	for _, child := range t.Children(id) {
		result = append(result, t.Descendants(child.Id)...)
		result = append(result, child)
	}
	return result
}

func (t *Tree) Size() int {
	return len(t.executions)
}

func (t *Tree) add(e *persistence.Execution) {
	t.executions[e.Id] = e
	t.children[e.ParentId] = append(t.children[e.ParentId], e.Id)
}

// retire moves an ended execution out of the live tree
func (t *Tree) retire(e *persistence.Execution) {
	t.remove(e)
	t.ended[e.ParentId] = append(t.ended[e.ParentId], e)
}

func (t *Tree) forgetEnded(id string) {
	delete(t.ended, id)
}

func (t *Tree) allEnded() []*persistence.Execution {
	var all []*persistence.Execution
	for _, ended := range t.ended {
		all = append(all, ended...)
	}
	return all
}

func (t *Tree) remove(e *persistence.Execution) {
	delete(t.executions, e.Id)
	delete(t.children, e.Id)
	siblings := t.children[e.ParentId]
	for i, id := range siblings {
		if id == e.Id {
			t.children[e.ParentId] = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
}
