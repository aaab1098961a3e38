package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bit2swaz/relaymesh/internal/config"
	"github.com/bit2swaz/relaymesh/internal/core"
	"github.com/bit2swaz/relaymesh/internal/discovery"
	"github.com/bit2swaz/relaymesh/internal/logger"
	"github.com/bit2swaz/relaymesh/internal/mesh"
	"github.com/bit2swaz/relaymesh/internal/metrics"
	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/bit2swaz/relaymesh/internal/transport"
	"github.com/bit2swaz/relaymesh/internal/tui"
	"github.com/bit2swaz/relaymesh/internal/uplink"
	"github.com/bit2swaz/relaymesh/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const beaconInterval = 2 * time.Second

var (
	cfg        = config.Default()
	flags      = config.Default()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "relaymesh",
	Short: "Store-and-carry message relay for nearby peers",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = applyFlags(cmd, loaded)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return logger.Init(cfg.LogFile, cfg.LogLevel)
	},
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay session",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Keep the web port in step when only the link port was moved.
		if cmd.Flags().Changed("port") && !cmd.Flags().Changed("web-port") && cfg.WebPort == 8080 {
			cfg.WebPort = 8080 + cfg.Port - 9000
			fmt.Printf("Auto-adjusting Web Port to %d (to match link port offset)\n", cfg.WebPort)
		}
		if err := checkPort(cfg.Port); err != nil {
			return fmt.Errorf("link port %d is already in use", cfg.Port)
		}
		if err := checkPort(cfg.WebPort); err != nil {
			return fmt.Errorf("web port %d is already in use", cfg.WebPort)
		}
		return runStart(cmd.Context())
	},
}

func runStart(parent context.Context) error {
	slog.Info("Starting relaymesh", "port", cfg.Port, "nick", cfg.Nick, "source", cfg.Source)
	db, err := store.Init(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer store.Close(db)

	selfID, err := core.LoadOrCreateIdentity(db)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var source discovery.ProximitySource
	var heartbeat *discovery.HeartbeatSource
	switch cfg.Source {
	case config.SourceUDP:
		heartbeat = discovery.NewHeartbeatSource(3 * cfg.ScanInterval)
		heartbeat.OnPeer = func(info discovery.PeerInfo) {
			err := store.UpsertContact(db, store.Contact{
				PeerID:      info.ID,
				DisplayName: info.Nick,
				Addr:        info.Addr,
				LastSeen:    time.Now(),
			})
			if err != nil {
				slog.Warn("Failed to record discovered peer", "peer", info.ID, "error", err)
			}
		}
		source = heartbeat
	default:
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		source = discovery.NewSimulator(seed, cfg.MissRate)
	}

	reg := prometheus.NewRegistry()
	tm := transport.NewManager()
	defer tm.CloseAll()

	mgr, err := mesh.NewManager(db, mesh.Options{
		ScanInterval:  cfg.ScanInterval,
		RelayInterval: cfg.RelayInterval,
		Source:        source,
		Courier:       transport.NewCourier(tm, selfID, contactResolver(db)),
		Metrics:       metrics.New(reg),
	})
	if err != nil {
		return err
	}

	if _, err := tm.Listen(fmt.Sprintf(":%d", cfg.Port), func(c net.Conn) { transport.Serve(c, mgr) }); err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()

	if heartbeat != nil {
		g.Go(func() error {
			return discovery.StartBeacon(ctx, beaconInterval, []int{cfg.DiscoveryPort}, cfg.Port, selfID, cfg.Nick)
		})
		g.Go(func() error { return heartbeat.Listen(ctx, cfg.DiscoveryPort, selfID) })
	}

	webSrv := web.NewServer(mgr, reg, cfg.WebPort)
	g.Go(func() error { return webSrv.Start(ctx) })

	if cfg.UplinkWebhook != "" {
		slog.Info("Initializing Uplink Service", "webhook", "REDACTED")
		feed := mesh.NewChanObserver(64)
		mgr.RegisterMessageObserver(feed)
		uplink.NewService(cfg.UplinkWebhook).Start(ctx, feed.Deliveries)
	}

	ip, _ := web.GetOutboundIP()
	url := fmt.Sprintf("http://%s:%d", ip, cfg.WebPort)
	qrASCII := ""
	if qr, err := qrcode.New(url, qrcode.Medium); err == nil {
		qrASCII = qr.ToString(false)
	}

	if cfg.Headless {
		slog.Info("Running in HEADLESS mode (No TUI)")
		fmt.Println("\nSCAN TO OPEN THE RELAY API:")
		fmt.Println(qrASCII)
		fmt.Println("URL:", url)
		fmt.Println("ID: ", selfID)
		<-ctx.Done()
	} else {
		feed := mesh.NewChanObserver(64)
		mgr.RegisterPeerObserver(feed)
		mgr.RegisterMessageObserver(feed)
		if err := tui.StartTUI(mgr, feed.Peers, feed.Deliveries, qrASCII); err != nil {
			slog.Error("TUI failed", "error", err)
		}
		stop()
	}

	return g.Wait()
}

// contactResolver finds a peer's link address in the contact list.
func contactResolver(db *gorm.DB) transport.Resolver {
	return func(peerID string) (string, bool) {
		c, ok, err := store.GetContact(db, peerID)
		if err != nil || !ok {
			return "", false
		}
		return c.Addr, c.Addr != ""
	}
}

// applyFlags overlays every flag the user set explicitly on top of base.
func applyFlags(cmd *cobra.Command, base config.Config) config.Config {
	set := cmd.Flags().Changed
	if set("db") {
		base.DBPath = flags.DBPath
	}
	if set("log-file") {
		base.LogFile = flags.LogFile
	}
	if set("log-level") {
		base.LogLevel = flags.LogLevel
	}
	if set("port") {
		base.Port = flags.Port
	}
	if set("web-port") {
		base.WebPort = flags.WebPort
	}
	if set("discovery-port") {
		base.DiscoveryPort = flags.DiscoveryPort
	}
	if set("nick") {
		base.Nick = flags.Nick
	}
	if set("source") {
		base.Source = flags.Source
	}
	if set("miss-rate") {
		base.MissRate = flags.MissRate
	}
	if set("seed") {
		base.Seed = flags.Seed
	}
	if set("scan-interval") {
		base.ScanInterval = flags.ScanInterval
	}
	if set("relay-interval") {
		base.RelayInterval = flags.RelayInterval
	}
	if set("headless") {
		base.Headless = flags.Headless
	}
	if set("discord-webhook") {
		base.UplinkWebhook = flags.UplinkWebhook
	}
	if os.Getenv("RELAYMESH_HEADLESS") == "true" {
		base.Headless = true
	}
	return base
}

func init() {
	def := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&flags.DBPath, "db", def.DBPath, "SQLite database file")
	pf.StringVar(&flags.LogFile, "log-file", def.LogFile, "Log file")
	pf.StringVar(&flags.LogLevel, "log-level", def.LogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(startCmd)
	sf := startCmd.Flags()
	sf.IntVarP(&flags.Port, "port", "p", def.Port, "Link port to listen on")
	sf.IntVarP(&flags.WebPort, "web-port", "w", def.WebPort, "Web API port")
	sf.IntVar(&flags.DiscoveryPort, "discovery-port", def.DiscoveryPort, "UDP beacon port (udp source)")
	sf.StringVarP(&flags.Nick, "nick", "n", def.Nick, "Nickname announced to peers")
	sf.StringVar(&flags.Source, "source", def.Source, "Proximity source: sim or udp")
	sf.Float64Var(&flags.MissRate, "miss-rate", def.MissRate, "Simulated probability a known peer is not heard")
	sf.Int64Var(&flags.Seed, "seed", def.Seed, "Simulator seed (0 uses the clock)")
	sf.DurationVar(&flags.ScanInterval, "scan-interval", def.ScanInterval, "Discovery interval")
	sf.DurationVar(&flags.RelayInterval, "relay-interval", def.RelayInterval, "Relay interval")
	sf.BoolVar(&flags.Headless, "headless", def.Headless, "Run without the TUI")
	sf.StringVar(&flags.UplinkWebhook, "discord-webhook", "", "Discord Webhook URL for Uplink Service")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

// openSession opens the database and a stopped mesh session for the short
// lived commands.
func openSession() (*gorm.DB, *mesh.Manager, error) {
	db, err := store.Init(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	mgr, err := mesh.NewManager(db, mesh.Options{})
	if err != nil {
		store.Close(db)
		return nil, nil, err
	}
	return db, mgr, nil
}
