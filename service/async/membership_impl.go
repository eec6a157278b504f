// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/xcherryio/flowengine/cluster"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
)

type membership struct {
	list          *memberlist.Memberlist
	events        *cluster.ClusterEventDelegate
	serverAddress string
	logger        log.Logger
}

// NewMembershipImpl joins the memberlist cluster, it returns nil outside the cluster mode
func NewMembershipImpl(cfg config.Config, logger log.Logger) (Membership, error) {
	if cfg.AsyncService.Mode != config.AsyncServiceModeCluster {
		return nil, nil
	}
	memberCfg := cfg.AsyncService.Membership
	serverAddress := cfg.AsyncService.ClientAddress

	bindHost, bindPort, err := splitHostPort(memberCfg.BindAddress)
	if err != nil {
		return nil, fmt.Errorf("fail to get port from bind address %s: %w", memberCfg.BindAddress, err)
	}
	advertiseHost, advertisePort, err := splitHostPort(memberCfg.AdvertiseAddress)
	if err != nil {
		return nil, fmt.Errorf("fail to get port from advertise address %s: %w", memberCfg.AdvertiseAddress, err)
	}

	events := cluster.NewClusterEventDelegate(serverAddress, logger)

	memberlistConf := memberlist.DefaultLocalConfig()
	memberlistConf.Name = cfg.JobExecutor.LockOwner
	memberlistConf.BindAddr = bindHost
	memberlistConf.BindPort = bindPort
	memberlistConf.AdvertiseAddr = advertiseHost
	memberlistConf.AdvertisePort = advertisePort
	memberlistConf.Events = events
	memberlistConf.Delegate = &cluster.ClusterDelegate{
		Meta: cluster.ClusterDelegateMetaData{
			ServerAddress: serverAddress,
			LockOwner:     cfg.JobExecutor.LockOwner,
		},
	}

	list, err := memberlist.Create(memberlistConf)
	if err != nil {
		return nil, fmt.Errorf("fail to create member with config: %w", err)
	}

	if memberCfg.AdvertiseAddressToJoin != "" {
		_, err = list.Join([]string{memberCfg.AdvertiseAddressToJoin})
		if err != nil {
			_ = list.Shutdown()
			return nil, fmt.Errorf("fail to join %s in %s: %w", memberCfg.AdvertiseAddressToJoin, memberCfg.AdvertiseAddress, err)
		}
	}
	logger.Info("joined the cluster", tag.ServerAddress(serverAddress), tag.Count(list.NumMembers()))

	return &membership{
		list:          list,
		events:        events,
		serverAddress: serverAddress,
		logger:        logger,
	}, nil
}

func (m *membership) GetServerAddress() string {
	return m.serverAddress
}

func (m *membership) GetServerAddressFor(processInstanceId string) string {
	return m.events.GetServerAddressFor(processInstanceId)
}

func (m *membership) Stop(ctx context.Context) error {
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := m.list.Leave(timeout); err != nil {
		m.logger.Warn("failed to leave the cluster gracefully", tag.Error(err))
	}
	return m.list.Shutdown()
}

func splitHostPort(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
