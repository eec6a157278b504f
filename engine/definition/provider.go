// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
)

// Provider resolves deployed definitions. Executions always refer to the exact version they run.
type Provider interface {
	// GetDefinition returns an ErrNotFound error for an unknown id
	GetDefinition(id string) (*ProcessDefinition, error)
	// GetLatestByKey returns an ErrNotFound error when no version of the key is deployed for the tenant
	GetLatestByKey(key, tenantId string) (*ProcessDefinition, error)
	// GetActivity returns an ErrActivityNotFound error when the version has no such activity
	GetActivity(definitionId, activityId string) (*Activity, error)
}

type versionKey struct {
	key      string
	tenantId string
}

// Cache holds resolved definitions in front of a Repository.
// Every engine owns its instance, EvictKey is called when a new version of the key is deployed.
type Cache struct {
	sync.RWMutex
	byId   map[string]*ProcessDefinition
	latest map[versionKey]*ProcessDefinition
}

func NewCache() *Cache {
	return &Cache{
		byId:   map[string]*ProcessDefinition{},
		latest: map[versionKey]*ProcessDefinition{},
	}
}

func (c *Cache) Get(id string) (*ProcessDefinition, bool) {
	c.RLock()
	defer c.RUnlock()
	def, ok := c.byId[id]
	return def, ok
}

func (c *Cache) GetLatest(key, tenantId string) (*ProcessDefinition, bool) {
	c.RLock()
	defer c.RUnlock()
	def, ok := c.latest[versionKey{key: key, tenantId: tenantId}]
	return def, ok
}

func (c *Cache) Put(def *ProcessDefinition) {
	c.Lock()
	defer c.Unlock()
	c.byId[def.Id] = def
}

func (c *Cache) PutLatest(def *ProcessDefinition) {
	c.Lock()
	defer c.Unlock()
	c.byId[def.Id] = def
	c.latest[versionKey{key: def.Key, tenantId: def.TenantId}] = def
}

// EvictKey drops every cached version of a key
func (c *Cache) EvictKey(key, tenantId string) {
	c.Lock()
	defer c.Unlock()
	delete(c.latest, versionKey{key: key, tenantId: tenantId})
	for id, def := range c.byId {
		if def.Key == key && def.TenantId == tenantId {
			delete(c.byId, id)
		}
	}
}

func (c *Cache) Size() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.byId)
}

// Deployment is a definition prepared for deployment but not yet registered
type Deployment struct {
	Definition *ProcessDefinition
	// Previous is the latest version before this deployment, nil for the first one
	Previous *ProcessDefinition
	// Unchanged is set when the content equals the latest version, Definition is then that version
	Unchanged bool
}

// Repository is the in-process deployment store.
// Deploying is two steps: Prepare assigns the version, Register publishes it once the
// subscription swap of the deployment has been committed.
type Repository struct {
	sync.RWMutex
	cache    *Cache
	logger   log.Logger
	byId     map[string]*ProcessDefinition
	versions map[versionKey][]*ProcessDefinition
}

var _ Provider = (*Repository)(nil)

func NewRepository(cache *Cache, logger log.Logger) *Repository {
	return &Repository{
		cache:    cache,
		logger:   logger,
		byId:     map[string]*ProcessDefinition{},
		versions: map[versionKey][]*ProcessDefinition{},
	}
}

func (r *Repository) Prepare(def *ProcessDefinition) (*Deployment, error) {
	if def == nil {
		return nil, errs.InvalidArgument("process definition is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	digest, err := contentDigest(def)
	if err != nil {
		return nil, err
	}

	r.RLock()
	defer r.RUnlock()
	versions := r.versions[versionKey{key: def.Key, tenantId: def.TenantId}]
	var previous *ProcessDefinition
	if len(versions) > 0 {
		previous = versions[len(versions)-1]
		if previousDigest, _ := contentDigest(previous); previousDigest == digest {
			return &Deployment{Definition: previous, Unchanged: true}, nil
		}
	}

	prepared := *def
	prepared.Version = len(versions) + 1
	prepared.Id = fmt.Sprintf("%s:%d:%s", def.Key, prepared.Version, digest)
	return &Deployment{Definition: &prepared, Previous: previous}, nil
}

// Register publishes a prepared definition as the latest version of its key
func (r *Repository) Register(def *ProcessDefinition) {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.byId[def.Id]; ok {
		return
	}
	vk := versionKey{key: def.Key, tenantId: def.TenantId}
	r.byId[def.Id] = def
	r.versions[vk] = append(r.versions[vk], def)
	r.cache.EvictKey(def.Key, def.TenantId)
	r.logger.Info("process definition deployed",
		tag.ProcessDefinitionId(def.Id), tag.ProcessDefinitionKey(def.Key), tag.TenantId(def.TenantId))
}

// IsKnown tells whether a definition id was deployed
func (r *Repository) IsKnown(id string) bool {
	r.RLock()
	defer r.RUnlock()
	_, ok := r.byId[id]
	return ok
}

func (r *Repository) GetDefinition(id string) (*ProcessDefinition, error) {
	if def, ok := r.cache.Get(id); ok {
		return def, nil
	}
	r.RLock()
	def, ok := r.byId[id]
	r.RUnlock()
	if !ok {
		return nil, errs.NotFound("process definition %s is not deployed", id)
	}
	r.cache.Put(def)
	return def, nil
}

func (r *Repository) GetLatestByKey(key, tenantId string) (*ProcessDefinition, error) {
	if def, ok := r.cache.GetLatest(key, tenantId); ok {
		return def, nil
	}
	r.RLock()
	versions := r.versions[versionKey{key: key, tenantId: tenantId}]
	r.RUnlock()
	if len(versions) == 0 {
		return nil, errs.NotFound("no process definition with key %s is deployed for tenant %q", key, tenantId)
	}
	def := versions[len(versions)-1]
	r.cache.PutLatest(def)
	return def, nil
}

func (r *Repository) GetActivity(definitionId, activityId string) (*Activity, error) {
	def, err := r.GetDefinition(definitionId)
	if err != nil {
		return nil, err
	}
	return def.Activity(activityId)
}

// contentDigest keeps definition ids stable when the same content is deployed again after a restart
func contentDigest(def *ProcessDefinition) (string, error) {
	content, err := json.Marshal(def)
	if err != nil {
		return "", errs.Wrap(err, "cannot encode process definition")
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:6]), nil
}
