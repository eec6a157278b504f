// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine"
	"github.com/xcherryio/flowengine/persistence"
	"go.uber.org/multierr"
)

const forwardTimeout = 5 * time.Second

type asyncService struct {
	executor   engine.JobExecutor
	membership Membership
	pulsar     *pulsarNotifier
	httpClient *http.Client

	cfg    config.Config
	logger log.Logger
}

// NewAsyncServiceImpl builds the async service around the job executor of this node.
// membership is nil outside the cluster mode.
func NewAsyncServiceImpl(
	cfg config.Config, executor engine.JobExecutor, membership Membership, logger log.Logger,
) Service {
	svc := &asyncService{
		executor:   executor,
		membership: membership,
		httpClient: &http.Client{Timeout: forwardTimeout},
		cfg:        cfg,
		logger:     logger,
	}
	if pulsarCfg := cfg.AsyncService.Pulsar; pulsarCfg != nil {
		svc.pulsar = newPulsarNotifier(*pulsarCfg, cfg.JobExecutor.LockOwner, executor, logger)
	}
	return svc
}

func (a *asyncService) Start() error {
	if a.pulsar != nil {
		if err := a.pulsar.Start(); err != nil {
			a.logger.Error("fail to start pulsar job notifier", tag.Error(err))
			return err
		}
	}
	if err := a.executor.Start(); err != nil {
		a.logger.Error("fail to start job executor", tag.Error(err))
		return err
	}
	return nil
}

func (a *asyncService) NotifyNewJobs(hint engine.JobHint) {
	if a.pulsar != nil {
		a.pulsar.NotifyNewJobs(hint)
		return
	}
	if a.membership != nil && hint.ProcessInstanceId != "" {
		target := a.membership.GetServerAddressFor(hint.ProcessInstanceId)
		if target != a.membership.GetServerAddress() {
			go a.notifyRemoteJobs(hint, target)
			return
		}
	}
	a.executor.TriggerAcquisition(hint)
}

func (a *asyncService) NotifyLocalJobs(hint engine.JobHint) {
	a.executor.TriggerAcquisition(hint)
}

func (a *asyncService) AcquireBatch(
	ctx context.Context, priorityMin, priorityMax *int64, limit int,
) ([]*persistence.Job, error) {
	return a.executor.AcquireBatch(ctx, priorityMin, priorityMax, limit)
}

func (a *asyncService) Stop(ctx context.Context) error {
	err1 := a.executor.Stop(ctx)
	var err2, err3 error
	if a.pulsar != nil {
		err2 = a.pulsar.Stop()
	}
	if a.membership != nil {
		err3 = a.membership.Stop(ctx)
	}
	return multierr.Combine(err1, err2, err3)
}

// notifyRemoteJobs forwards a hint to the owner of its process instance.
// On failure the local executor is woken up instead, any node may acquire the job.
func (a *asyncService) notifyRemoteJobs(hint engine.JobHint, serverAddress string) {
	err := a.postHint(hint, serverAddress)
	if err == nil {
		return
	}
	a.logger.Warn("failed to forward job hint", tag.ServerAddress(serverAddress),
		tag.ProcessInstanceId(hint.ProcessInstanceId), tag.Error(err))
	a.executor.TriggerAcquisition(hint)
}

func (a *asyncService) postHint(hint engine.JobHint, serverAddress string) error {
	body, err := json.Marshal(hint)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	url := serverAddress + PathNotifyJobs + "?" + QueryForwarded + "=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify-jobs returned status %d", resp.StatusCode)
	}
	return nil
}
