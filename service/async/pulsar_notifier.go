// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"context"
	"encoding/json"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine"
)

// pulsarNotifier broadcasts new job hints through a topic.
// Every node subscribes with a subscription of its own, so every node receives every hint.
type pulsarNotifier struct {
	cfg       config.PulsarConfig
	lockOwner string
	local     engine.JobExecutor
	client    pulsar.Client
	producer  pulsar.Producer
	consumer  pulsar.Consumer
	stopCh    chan struct{}
	done      chan struct{}
	logger    log.Logger
}

func newPulsarNotifier(
	cfg config.PulsarConfig, lockOwner string, local engine.JobExecutor, logger log.Logger,
) *pulsarNotifier {
	return &pulsarNotifier{
		cfg:       cfg,
		lockOwner: lockOwner,
		local:     local,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

func (p *pulsarNotifier) Start() error {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:              p.cfg.URL,
		OperationTimeout: p.cfg.OperationTimeout,
	})
	if err != nil {
		return err
	}
	producer, err := client.CreateProducer(pulsar.ProducerOptions{
		Topic: p.cfg.Topic,
	})
	if err != nil {
		client.Close()
		return err
	}
	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:            p.cfg.Topic,
		SubscriptionName: p.cfg.SubscriptionPrefix + "-" + p.lockOwner,
		Type:             pulsar.Exclusive,
	})
	if err != nil {
		producer.Close()
		client.Close()
		return err
	}
	p.client = client
	p.producer = producer
	p.consumer = consumer
	go p.processMessages()
	return nil
}

func (p *pulsarNotifier) NotifyNewJobs(hint engine.JobHint) {
	payload, err := json.Marshal(hint)
	if err != nil {
		p.logger.Error("failed to encode job hint", tag.Error(err))
		return
	}
	p.producer.SendAsync(context.Background(), &pulsar.ProducerMessage{
		Key:     hint.ProcessInstanceId,
		Payload: payload,
	}, func(_ pulsar.MessageID, _ *pulsar.ProducerMessage, err error) {
		if err != nil {
			// the hint is lost, the job is found by a regular acquisition
			p.logger.Warn("failed to publish job hint", tag.JobId(hint.JobId), tag.Error(err))
			p.local.TriggerAcquisition(hint)
		}
	})
}

func (p *pulsarNotifier) Stop() error {
	if p.client == nil {
		return nil
	}
	close(p.stopCh)
	<-p.done
	p.producer.Close()
	p.consumer.Close()
	p.client.Close()
	return nil
}

func (p *pulsarNotifier) processMessages() {
	defer close(p.done)
	msgCh := p.consumer.Chan()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				p.logger.Info("job hint channel is closed")
				return
			}
			p.handleMessage(msg.Message.ID().String(), msg.Message.Payload())
			if err := p.consumer.Ack(msg); err != nil {
				p.logger.Error("failed to ack the job hint",
					tag.Error(err),
					tag.ID(msg.Message.ID().String()),
					tag.Key(msg.Message.Key()))
			}
		case <-p.stopCh:
			p.logger.Info("job hint processor is closed")
			return
		}
	}
}

func (p *pulsarNotifier) handleMessage(id string, payload []byte) {
	var hint engine.JobHint
	if err := json.Unmarshal(payload, &hint); err != nil {
		p.logger.Error("dropping malformed job hint", tag.ID(id), tag.Value(string(payload)), tag.Error(err))
		return
	}
	p.local.TriggerAcquisition(hint)
}
