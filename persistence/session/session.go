// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package session is the unit of work of one command.
// Every entity read through a Session is cached and snapshotted, changes are staged in memory,
// and Flush writes all of them in one transaction with revision-checked updates and deletes.
package session

import (
	"context"
	"reflect"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/persistence"
)

// ConflictListener decides whether a conflicting update or delete is ignored.
// A conflict is ignored when any listener returns ConflictIgnore.
type ConflictListener func(op persistence.Operation) persistence.ConflictResolution

type entryState int

const (
	stateLoaded entryState = iota
	stateInserted
	stateDeleted
)

type entityKey struct {
	entityType persistence.EntityType
	id         string
}

type entry struct {
	entity   persistence.Entity
	snapshot any
	state    entryState
	touched  bool
}

type Session struct {
	store  persistence.EntityStore
	logger log.Logger

	entries map[entityKey]*entry
	// order keeps the flush deterministic
	order []entityKey

	listeners    []ConflictListener
	beforeCommit []func(ctx context.Context) error
	onCommit     []func()

	closed bool
}

func New(store persistence.EntityStore, logger log.Logger) *Session {
	return &Session{
		store:   store,
		logger:  logger,
		entries: map[entityKey]*entry{},
	}
}

func keyOf(e persistence.Entity) entityKey {
	return entityKey{entityType: e.EntityType(), id: e.GetId()}
}

func (s *Session) checkOpen() error {
	if s.closed {
		return errs.InvalidState("session is already flushed or discarded")
	}
	return nil
}

// cache returns the instance the session already tracks for a loaded entity, or starts tracking it.
// It returns nil when the session deleted the entity.
func (s *Session) cache(loaded persistence.Entity) persistence.Entity {
	key := keyOf(loaded)
	if en, ok := s.entries[key]; ok {
		if en.state == stateDeleted {
			return nil
		}
		return en.entity
	}
	s.entries[key] = &entry{
		entity:   loaded,
		snapshot: loaded.PersistentState(),
		state:    stateLoaded,
	}
	s.order = append(s.order, key)
	return loaded
}

func (s *Session) lookup(entityType persistence.EntityType, id string) (*entry, bool) {
	en, ok := s.entries[entityKey{entityType: entityType, id: id}]
	return en, ok
}

// Insert stages a new entity, it is written with revision 1
func (s *Session) Insert(e persistence.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if e.GetId() == "" {
		return errs.InvalidArgument("cannot insert %s without id", e.EntityType())
	}
	key := keyOf(e)
	if _, ok := s.entries[key]; ok {
		return errs.InvalidState("%s %s is already part of the session", e.EntityType(), e.GetId())
	}
	s.order = append(s.order, key)
	s.entries[key] = &entry{entity: e, state: stateInserted}
	return nil
}

// Delete stages the removal of an entity. Deleting an entity inserted by this session drops the insert.
func (s *Session) Delete(e persistence.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keyOf(e)
	en, ok := s.entries[key]
	if !ok {
		s.entries[key] = &entry{entity: e, snapshot: e.PersistentState(), state: stateDeleted}
		s.order = append(s.order, key)
		return nil
	}
	switch en.state {
	case stateInserted:
		delete(s.entries, key)
		s.removeFromOrder(key)
	case stateLoaded:
		en.state = stateDeleted
	}
	return nil
}

// Touch forces a revision-checked update even if nothing changed,
// so that concurrent writers of the same entity conflict.
func (s *Session) Touch(e persistence.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keyOf(e)
	en, ok := s.entries[key]
	if !ok {
		s.entries[key] = &entry{entity: e, snapshot: e.PersistentState(), state: stateLoaded, touched: true}
		s.order = append(s.order, key)
		return nil
	}
	if en.state == stateLoaded {
		en.touched = true
	}
	return nil
}

func (s *Session) removeFromOrder(key entityKey) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Session) AddConflictListener(listener ConflictListener) {
	s.listeners = append(s.listeners, listener)
}

// BeforeCommit registers a hook that runs inside the flush transaction, its error aborts the flush
func (s *Session) BeforeCommit(fn func(ctx context.Context) error) {
	s.beforeCommit = append(s.beforeCommit, fn)
}

// OnCommit registers a hook that runs after a successful flush
func (s *Session) OnCommit(fn func()) {
	s.onCommit = append(s.onCommit, fn)
}

// Discard closes the session without writing anything
func (s *Session) Discard() {
	s.closed = true
}

func (s *Session) IsClosed() bool {
	return s.closed
}

// PendingOperations lists what Flush would write now
func (s *Session) PendingOperations() []persistence.Operation {
	var ops []persistence.Operation
	for _, key := range s.order {
		en := s.entries[key]
		switch en.state {
		case stateInserted:
			ops = append(ops, persistence.Operation{Kind: persistence.OperationInsert, Entity: en.entity})
		case stateDeleted:
			ops = append(ops, persistence.Operation{Kind: persistence.OperationDelete, Entity: en.entity})
		case stateLoaded:
			if en.touched || !reflect.DeepEqual(en.snapshot, en.entity.PersistentState()) {
				ops = append(ops, persistence.Operation{Kind: persistence.OperationUpdate, Entity: en.entity})
			}
		}
	}
	return ops
}

// Flush writes the staged changes in one transaction. It can be called once.
// Revisions of the written entities are advanced only after the transaction committed.
func (s *Session) Flush(ctx context.Context) (*persistence.FlushResponse, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.closed = true

	ops := s.PendingOperations()
	resp := &persistence.FlushResponse{}
	if len(ops) > 0 || len(s.beforeCommit) > 0 {
		var err error
		resp, err = s.store.Flush(ctx, persistence.FlushRequest{
			Operations:      ops,
			ConflictHandler: s.resolveConflict,
			BeforeCommit:    s.runBeforeCommit,
		})
		if err != nil {
			return nil, err
		}
	}

	ignored := map[entityKey]bool{}
	for _, op := range resp.Ignored {
		ignored[keyOf(op.Entity)] = true
	}
	for _, op := range ops {
		if ignored[keyOf(op.Entity)] {
			continue
		}
		switch op.Kind {
		case persistence.OperationInsert:
			op.Entity.SetRevision(1)
		case persistence.OperationUpdate:
			op.Entity.SetRevision(op.Entity.GetRevision() + 1)
		}
	}

	for _, fn := range s.onCommit {
		fn()
	}
	return resp, nil
}

func (s *Session) resolveConflict(op persistence.Operation) persistence.ConflictResolution {
	for _, listener := range s.listeners {
		if listener(op) == persistence.ConflictIgnore {
			return persistence.ConflictIgnore
		}
	}
	s.logger.Debug("optimistic locking conflict",
		tag.EntityType(string(op.Entity.EntityType())), tag.ID(op.Entity.GetId()))
	return persistence.ConflictRethrow
}

func (s *Session) runBeforeCommit(ctx context.Context) error {
	for _, fn := range s.beforeCommit {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}
