// Package broker runs an optional embedded MQTT broker so a local mesh gateway
// and the chess client can talk without a public broker.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/kabili207/mesh-chess/pkg/config"
	"github.com/kabili207/mesh-chess/pkg/metrics"
)

type Broker struct {
	server *mqtt.Server
	hook   *MeshHook
	addr   string
	log    *slog.Logger
}

func New(cfg *config.Configuration, m *metrics.Metrics, log *slog.Logger) (*Broker, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "broker")

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       log,
	})

	hook := new(MeshHook)
	err := server.AddHook(hook, &MeshHookOptions{
		Root:           cfg.MeshSettings.MqttRoot,
		Users:          cfg.Broker.Users,
		AllowAnonymous: cfg.Broker.AllowAnonymous,
		LocalUser:      cfg.MQTT.Username,
		LocalPassword:  cfg.MQTT.Password,
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("add mesh hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: cfg.Broker.ListenAddr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("add listener: %w", err)
	}

	return &Broker{server: server, hook: hook, addr: cfg.Broker.ListenAddr, log: log}, nil
}

// Run serves until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("serve mqtt: %w", err)
	}
	b.log.Info("embedded mqtt broker listening", "addr", b.addr)

	<-ctx.Done()
	return b.server.Close()
}

func (b *Broker) Clients() []ClientDetails {
	return b.hook.Clients()
}
