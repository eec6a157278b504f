// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"encoding/json"
)

// ClusterDelegate gossips the metadata of this node, the rest of memberlist.Delegate is not used
type ClusterDelegate struct {
	Meta ClusterDelegateMetaData
}

func (d *ClusterDelegate) NodeMeta(limit int) []byte {
	return d.Meta.Bytes()
}
func (d *ClusterDelegate) LocalState(join bool) []byte {
	// not use, noop
	return []byte("")
}
func (d *ClusterDelegate) NotifyMsg(msg []byte) {
	// not use
}
func (d *ClusterDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	// not use, noop
	return nil
}
func (d *ClusterDelegate) MergeRemoteState(buf []byte, join bool) {
	// not use
}

type ClusterDelegateMetaData struct {
	// ServerAddress is the base url of the internal http server of the node
	ServerAddress string
	// LockOwner is the job executor identity of the node
	LockOwner string
}

func (m ClusterDelegateMetaData) Bytes() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return []byte("")
	}
	return data
}

func ParseClusterDelegateMetaData(data []byte) (ClusterDelegateMetaData, error) {
	meta := ClusterDelegateMetaData{}
	err := json.Unmarshal(data, &meta)
	return meta, err
}
