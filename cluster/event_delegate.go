// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/memberlist"
	"github.com/serialx/hashring"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
)

// ClusterEventDelegate keeps a consistent hashing ring of the server addresses of the live members.
// Process instances are assigned to members by their id.
type ClusterEventDelegate struct {
	sync.RWMutex
	consistent *hashring.HashRing
	members    map[string]string

	Logger        log.Logger
	ServerAddress string
}

func NewClusterEventDelegate(serverAddress string, logger log.Logger) *ClusterEventDelegate {
	return &ClusterEventDelegate{
		members:       map[string]string{},
		Logger:        logger,
		ServerAddress: serverAddress,
	}
}

func (d *ClusterEventDelegate) NotifyJoin(node *memberlist.Node) {
	meta, err := ParseClusterDelegateMetaData(node.Meta)
	if err != nil || meta.ServerAddress == "" {
		d.Logger.Error("ignoring a member without server address", tag.Value(string(node.Meta)), tag.Error(err))
		return
	}
	hostPort := BuildHostAddress(node)
	d.Logger.Info(fmt.Sprintf("ClusterEvent JOIN %s: advertise address %s, server address %s",
		d.ServerAddress, hostPort, meta.ServerAddress))

	d.Lock()
	defer d.Unlock()
	d.members[node.Name] = meta.ServerAddress
	if d.consistent == nil {
		d.consistent = hashring.New([]string{meta.ServerAddress})
	} else {
		d.consistent = d.consistent.AddNode(meta.ServerAddress)
	}
}

func (d *ClusterEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.Lock()
	defer d.Unlock()
	serverAddress, ok := d.members[node.Name]
	if !ok {
		return
	}
	d.Logger.Info(fmt.Sprintf("ClusterEvent LEAVE %s: advertise address %s, server address %s",
		d.ServerAddress, BuildHostAddress(node), serverAddress))

	delete(d.members, node.Name)
	if d.consistent != nil {
		d.consistent = d.consistent.RemoveNode(serverAddress)
	}
}

func (d *ClusterEventDelegate) NotifyUpdate(node *memberlist.Node) {
	// skip
}

// GetServerAddressFor returns the server address of the member owning the key.
// It falls back to this node while the ring is empty.
func (d *ClusterEventDelegate) GetServerAddressFor(key string) string {
	d.RLock()
	defer d.RUnlock()
	if d.consistent == nil {
		return d.ServerAddress
	}
	node, ok := d.consistent.GetNode(key)
	if !ok {
		return d.ServerAddress
	}
	return node
}

// ServerAddresses returns the server addresses of the live members, sorted
func (d *ClusterEventDelegate) ServerAddresses() []string {
	d.RLock()
	defer d.RUnlock()
	var addresses []string
	for _, address := range d.members {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}

func BuildHostAddress(node *memberlist.Node) string {
	return fmt.Sprintf("%s:%d", node.Addr.To4().String(), node.Port)
}
