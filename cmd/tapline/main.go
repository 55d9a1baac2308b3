// Command tapline runs the per-source log ingestion and live-tail
// runtime: one HTTP+JSON process wiring together the source registry,
// recent-logs cache, memory buffer, backend adaptors, dispatcher,
// ingestion pipeline, source supervisor, and (optionally) the cluster
// aggregator and broadcaster.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"tapline/internal/backend"
	_ "tapline/internal/backend/gcs"
	_ "tapline/internal/backend/s3"
	_ "tapline/internal/backend/webhook"
	"tapline/internal/buffer"
	"tapline/internal/cluster"
	"tapline/internal/config/memory"
	"tapline/internal/config/sqlite"
	"tapline/internal/dispatch"
	"tapline/internal/event"
	"tapline/internal/feed"
	"tapline/internal/home"
	"tapline/internal/logging"
	"tapline/internal/pipeline"
	"tapline/internal/recentlogs"
	"tapline/internal/registry"
	"tapline/internal/source"
	"tapline/internal/supervisor"
)

var version = "dev"

func main() {
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(logging.NewComponentFilterHandler(base, slog.LevelInfo))

	rootCmd := &cobra.Command{
		Use:   "tapline",
		Short: "Per-source log ingestion and live-tail runtime",
	}
	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("config-type", "sqlite", "source store type: sqlite or memory")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion runtime and HTTP feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			configType, _ := cmd.Flags().GetString("config-type")
			addr, _ := cmd.Flags().GetString("addr")
			poolSize, _ := cmd.Flags().GetInt("pool-size")
			peersFlag, _ := cmd.Flags().GetString("peers")
			mqttBroker, _ := cmd.Flags().GetString("mqtt-broker")
			clusterTLS, _ := cmd.Flags().GetBool("cluster-tls")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return serve(ctx, logger, serveConfig{
				home:       homeFlag,
				configType: configType,
				addr:       addr,
				poolSize:   poolSize,
				peers:      peersFlag,
				mqttBroker: mqttBroker,
				clusterTLS: clusterTLS,
			})
		},
	}
	serveCmd.Flags().String("addr", ":4564", "listen address (host:port)")
	serveCmd.Flags().Int("pool-size", 4, "pub/sub shard fan-out for the rate broadcaster")
	serveCmd.Flags().String("peers", "", "comma-separated peer node base URLs for cluster list fan-out")
	serveCmd.Flags().String("mqtt-broker", "", "MQTT broker URL for the insert broadcaster (default: in-process only)")
	serveCmd.Flags().Bool("cluster-tls", false, "require mutual TLS between cluster peers, bootstrapping a CA and node cert under the home directory on first run")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println(version) },
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type serveConfig struct {
	home       string
	configType string
	addr       string
	poolSize   int
	peers      string
	mqttBroker string
	clusterTLS bool
}

func serve(ctx context.Context, logger *slog.Logger, cfg serveConfig) error {
	store, closeStore, err := openStore(cfg.home, cfg.configType)
	if err != nil {
		return fmt.Errorf("open source store: %w", err)
	}
	defer closeStore()

	sources, err := source.NewRegistry(ctx, source.Config{Store: store, Logger: logger})
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	defer sources.Close()

	buffers := registry.New[source.Key, *buffer.Buffer]()
	caches := registry.New[source.Key, *recentlogs.Cache]()
	adaptors := registry.New[source.Key, backend.Adaptor]()

	sched, err := recentlogs.NewScheduler(logger)
	if err != nil {
		return fmt.Errorf("start recent-logs scheduler: %w", err)
	}
	defer sched.Stop()

	lock := cluster.NewLocalLock()

	broadcaster, closeBroadcaster, err := openBroadcaster(cfg.mqttBroker, cfg.poolSize, logger)
	if err != nil {
		return fmt.Errorf("open broadcaster: %w", err)
	}
	defer closeBroadcaster()

	counter := cluster.NewRateCounter(cluster.CounterConfig{NodeID: nodeID(), Broadcaster: broadcaster, Logger: logger})
	defer counter.Close()

	dispatcher := dispatch.New(adaptors, logger)
	pl := pipeline.New(pipeline.Config{
		Sources:    sources,
		Buffers:    buffers,
		Caches:     caches,
		Dispatcher: dispatcher,
		Counter:    counter,
		Logger:     logger,
	})

	sup := supervisor.New(supervisor.Config{
		Sources:   sources,
		Buffers:   buffers,
		Caches:    caches,
		Adaptors:  adaptors,
		Scheduler: sched,
		Lock:      lock,
		Toucher:   sources,
		Counter:   counter,
		NodeID:    nodeID(),
		Logger:    logger,
	})

	for _, src := range sources.List() {
		if err := sup.Start(ctx, src.ID); err != nil {
			logger.Error("startup: failed to start source", "source_id", src.ID, "error", err)
		}
	}

	var clusterTLS *cluster.ClusterCerts
	var serverTLSConfig *tls.Config
	if cfg.clusterTLS {
		hd, err := resolveHome(cfg.home)
		if err != nil {
			return fmt.Errorf("resolve home directory for cluster TLS: %w", err)
		}
		if err := hd.EnsureExists(); err != nil {
			return fmt.Errorf("ensure home directory for cluster TLS: %w", err)
		}
		certs, err := cluster.LoadOrBootstrapClusterCerts(
			hd.ClusterCACertPath(), hd.ClusterCAKeyPath(),
			hd.ClusterNodeCertPath(), hd.ClusterNodeKeyPath(),
			nil,
		)
		if err != nil {
			return fmt.Errorf("load cluster TLS material: %w", err)
		}
		serverTLSConfig, err = certs.ServerTLSConfig()
		if err != nil {
			return fmt.Errorf("build cluster TLS server config: %w", err)
		}
		clusterTLS = &certs
	}

	peerHTTPClient := http.DefaultClient
	if clusterTLS != nil {
		clientTLSConfig, err := clusterTLS.ClientTLSConfig()
		if err != nil {
			return fmt.Errorf("build cluster TLS client config: %w", err)
		}
		peerHTTPClient = &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLSConfig}}
	}

	lister := localLister{caches: caches}
	var aggregator *cluster.Aggregator
	if peers := parsePeers(cfg.peers); len(peers) > 0 {
		aggregator = cluster.New(cluster.Config{
			Peers:     cluster.StaticPeerList(peers),
			Requester: cluster.NewPeerClient(peerHTTPClient),
			Caches:    lister,
			NodeID:    nodeID(),
			Logger:    logger,
		})
	}

	srv := feed.New(feed.Config{Sources: sources, Pipeline: pl, Caches: caches, Aggregator: aggregator, Logger: logger})

	httpSrv := &http.Server{Addr: cfg.addr, Handler: srv.Mux(), ReadHeaderTimeout: 10 * time.Second}
	if serverTLSConfig != nil {
		httpSrv.TLSConfig = serverTLSConfig
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("feed server starting", "addr", cfg.addr, "cluster_tls", serverTLSConfig != nil)
		var err error
		if serverTLSConfig != nil {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("feed server shutdown error", "error", err)
	}

	for _, src := range sources.List() {
		if sup.Started(src.ID) {
			if err := sup.Stop(shutdownCtx, src.ID); err != nil {
				logger.Error("shutdown: failed to stop source", "source_id", src.ID, "error", err)
			}
		}
	}

	return nil
}

// localLister satisfies cluster.Lister by reading a source's cache
// directly out of the shared registry, the same shape the pipeline and
// supervisor use.
type localLister struct {
	caches *registry.Registry[source.Key, *recentlogs.Cache]
}

func (l localLister) Snapshot(sourceID string) []event.LogEvent {
	cache, ok := l.caches.Lookup(source.RecentLogsKey(sourceID))
	if !ok {
		return nil
	}
	return cache.Snapshot()
}

// resolveHome returns the home directory to use: homeFlag if set,
// otherwise the platform default.
func resolveHome(homeFlag string) (home.Dir, error) {
	if homeFlag != "" {
		return home.New(homeFlag), nil
	}
	return home.Default()
}

func openStore(homeFlag, configType string) (source.Store, func(), error) {
	switch configType {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		hd, err := resolveHome(homeFlag)
		if err != nil {
			return nil, nil, err
		}
		if err := hd.EnsureExists(); err != nil {
			return nil, nil, err
		}
		st, err := sqlite.NewStore(hd.ConfigPath("sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown config store type %q", configType)
	}
}

func openBroadcaster(brokerURL string, poolSize int, logger *slog.Logger) (cluster.Broadcaster, func(), error) {
	if brokerURL == "" {
		b := cluster.NewLocalBroadcaster(logger)
		return b, func() { _ = b.Close() }, nil
	}
	b, err := cluster.NewMQTTBroadcaster(cluster.MQTTConfig{
		BrokerURL: brokerURL,
		ClientID:  "tapline-" + nodeID(),
		PoolSize:  poolSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return b, func() { _ = b.Close() }, nil
}

func parsePeers(raw string) []cluster.Peer {
	if raw == "" {
		return nil
	}
	var peers []cluster.Peer
	for _, url := range strings.Split(raw, ",") {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		peers = append(peers, cluster.Peer{ID: url, BaseURL: url})
	}
	return peers
}

var (
	nodeIDOnce  sync.Once
	nodeIDValue string
)

// nodeID returns a human-readable node name, generated once per process
// and stable for its lifetime. Used as the cluster node identity for
// rate-counter envelopes and MQTT client IDs.
func nodeID() string {
	nodeIDOnce.Do(func() {
		nodeIDValue = petname.Generate(2, "-")
	})
	return nodeIDValue
}
