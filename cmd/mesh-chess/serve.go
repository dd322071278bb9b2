package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kabili207/mesh-chess/pkg/broker"
	"github.com/kabili207/mesh-chess/pkg/chat"
	"github.com/kabili207/mesh-chess/pkg/config"
	"github.com/kabili207/mesh-chess/pkg/events"
	"github.com/kabili207/mesh-chess/pkg/game"
	"github.com/kabili207/mesh-chess/pkg/logging"
	"github.com/kabili207/mesh-chess/pkg/metrics"
	"github.com/kabili207/mesh-chess/pkg/nodes"
	"github.com/kabili207/mesh-chess/pkg/router"
	"github.com/kabili207/mesh-chess/pkg/routes"
	"github.com/kabili207/mesh-chess/pkg/rules"
	"github.com/kabili207/mesh-chess/pkg/store"
	"github.com/kabili207/mesh-chess/pkg/traceroute"
	"github.com/kabili207/mesh-chess/pkg/transport"
)

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	log.Info("starting mesh-chess", "version", version, "node", cfg.MeshSettings.SelfNode.NodeID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	var stores store.Stores
	if cfg.Database.Path != "" {
		db, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		stores = store.NewStores(db)
		log.Info("opened database", "path", cfg.Database.Path)
	}

	bus := events.NewBus()

	nodeDB := transport.NewNodeDB(stores.Nodes, bus, m, log)
	if err := nodeDB.Load(); err != nil {
		log.Warn("failed to load saved nodes", "error", err)
	}

	var brk *broker.Broker
	if cfg.Broker.Enabled {
		brk, err = broker.New(cfg, m, log)
		if err != nil {
			return err
		}
		if cfg.MQTT.Broker == "" {
			cfg.MQTT.Broker = localBrokerURL(cfg.Broker.ListenAddr)
		}
	}

	mt, err := transport.New(transport.Options{
		Mesh:    cfg.MeshSettings,
		MQTT:    cfg.MQTT,
		NodeDB:  nodeDB,
		Metrics: m,
		Log:     log,
	})
	if err != nil {
		return err
	}

	registry := nodes.NewRegistry(mt, cfg.NodeCacheTTL)
	registry.Start()
	defer registry.Stop()

	chatOpts := chat.StoreOptions{Listener: bus, Log: log}
	if stores.Chats != nil {
		chatOpts.Archive = stores.Chats
	}
	chats := chat.NewStore(chatOpts)
	if err := chats.Restore(ctx, cfg.Database.HistoryLimit); err != nil {
		log.Warn("failed to restore chat history", "error", err)
	}

	tracker := traceroute.NewTracker(traceroute.TrackerOptions{
		Requester: mt,
		Listener:  bus,
		Log:       log,
		HopLimit:  cfg.MeshSettings.SelfNode.HopLimit,
	})

	rt := router.New(router.Options{
		Transport:   mt,
		Chats:       chats,
		Traces:      tracker,
		Metrics:     m,
		Log:         log,
		SendTimeout: cfg.Game.SendTimeout,
	})
	rt.Attach()

	session := game.NewSession(game.Options{
		Transmitter: rt,
		Engine:      rules.Chess(),
		Listener:    bus,
		Metrics:     m,
		Log:         log,
		Self:        cfg.MeshSettings.SelfNode.NodeID,
	})
	session.Attach(rt)

	webOpts := routes.Options{
		Self:         cfg.MeshSettings.SelfNode.NodeID,
		SelfPosition: cfg.MeshSettings.SelfPosition(),
		Channels:     cfg.MeshSettings.ChannelInfos(),
		Nodes:        registry,
		Chats:        chats,
		Sender:       rt,
		Game:         session,
		Traces:       tracker,
		Events:       bus,
		Gatherer:     reg,
		Log:          log,
	}
	if brk != nil {
		webOpts.Clients = brk
	}
	web := routes.NewWebRouter(webOpts)

	g, ctx := errgroup.WithContext(ctx)
	if brk != nil {
		g.Go(func() error { return brk.Run(ctx) })
	}
	g.Go(func() error { return mt.Run(ctx) })
	g.Go(func() error { return web.ListenAndServe(ctx, cfg.Web.ListenAddr) })

	err = g.Wait()
	log.Info("shut down")
	return err
}

// localBrokerURL is the address our own client uses to reach the embedded broker.
func localBrokerURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "tcp://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("tcp://%s", net.JoinHostPort(host, port))
}
