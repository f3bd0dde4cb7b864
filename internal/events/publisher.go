// Package events publishes workflow outcomes to NATS. Publishing is
// best-effort: a failed publish is logged by the caller and never fails
// the workflow that produced it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects emitted by the orchestrator.
const (
	SubjectMachineRegistered = "agrox.machine.registered"
	SubjectMachineStarted    = "agrox.machine.started"
	SubjectMachineStopped    = "agrox.machine.stopped"
	SubjectPlantCreated      = "agrox.plant.created"
	SubjectDataUploaded      = "agrox.data.uploaded"
	SubjectRewardsClaimed    = "agrox.rewards.claimed"
)

type Publisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("agrox-daemon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, log: log}, nil
}

// Publish marshals the event as JSON and publishes it on subject.
func (p *Publisher) Publish(ctx context.Context, subject string, event any) error {
	if p == nil {
		return nil
	}
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(subject, payload)
}

func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
	p.nc.Close()
}
