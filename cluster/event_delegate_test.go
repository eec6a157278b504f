// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"fmt"
	"net"
	"testing"

	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/flowengine/common/log"
)

func newNode(name, serverAddress string, port uint16) *memberlist.Node {
	return &memberlist.Node{
		Name: name,
		Addr: net.ParseIP("127.0.0.1"),
		Port: port,
		Meta: ClusterDelegateMetaData{ServerAddress: serverAddress}.Bytes(),
	}
}

func TestRingFollowsMembership(t *testing.T) {
	d := NewClusterEventDelegate("http://node-a:8802", log.NewNopLogger())
	assert.Equal(t, "http://node-a:8802", d.GetServerAddressFor("pi-1"))

	d.NotifyJoin(newNode("a", "http://node-a:8802", 7946))
	d.NotifyJoin(newNode("b", "http://node-b:8802", 7947))
	d.NotifyJoin(newNode("c", "http://node-c:8802", 7948))
	assert.Equal(t, []string{"http://node-a:8802", "http://node-b:8802", "http://node-c:8802"}, d.ServerAddresses())

	owners := map[string]string{}
	used := map[string]bool{}
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("pi-%d", i)
		owners[key] = d.GetServerAddressFor(key)
		used[owners[key]] = true
		// stable
		assert.Equal(t, owners[key], d.GetServerAddressFor(key))
	}
	assert.Greater(t, len(used), 1)

	d.NotifyLeave(newNode("b", "", 7947))
	assert.Equal(t, []string{"http://node-a:8802", "http://node-c:8802"}, d.ServerAddresses())
	for key, owner := range owners {
		moved := d.GetServerAddressFor(key)
		if owner != "http://node-b:8802" {
			assert.Equal(t, owner, moved, key)
		} else {
			assert.NotEqual(t, "http://node-b:8802", moved, key)
		}
	}
}

func TestMemberWithoutMetadataIsIgnored(t *testing.T) {
	d := NewClusterEventDelegate("http://node-a:8802", log.NewNopLogger())
	d.NotifyJoin(&memberlist.Node{Name: "x", Addr: net.ParseIP("127.0.0.1"), Port: 7000, Meta: []byte("garbage")})
	assert.Empty(t, d.ServerAddresses())
	d.NotifyLeave(&memberlist.Node{Name: "x", Addr: net.ParseIP("127.0.0.1"), Port: 7000})
	assert.Equal(t, "http://node-a:8802", d.GetServerAddressFor("pi-1"))
}

func TestMetadataRoundTrip(t *testing.T) {
	delegate := &ClusterDelegate{Meta: ClusterDelegateMetaData{ServerAddress: "http://node-a:8802", LockOwner: "node-a"}}
	meta, err := ParseClusterDelegateMetaData(delegate.NodeMeta(512))
	require.NoError(t, err)
	assert.Equal(t, delegate.Meta, meta)
}
