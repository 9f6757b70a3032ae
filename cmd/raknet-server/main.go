package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shadowmesh/raknet/pkg/config"
	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/pkg/persistence"
	"github.com/shadowmesh/raknet/pkg/rakserver"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "raknet-server",
		Short: "Run a RakNet-compatible UDP server",
		RunE:  runServer,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.NewLogger("server", logging.ParseLevel(cfg.Logging.Level), cfg.Logging.OutputFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	opts := rakserver.Options{}

	if cfg.Server.UseRedisRegistry {
		registry, err := persistence.NewRedisGUIDRegistry(persistence.RedisGUIDRegistryConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("init redis guid registry: %w", err)
		}
		defer registry.Close()
		opts.Registry = registry
	}

	if cfg.Server.UsePostgresAudit {
		audit, err := persistence.NewPostgresAuditStore(persistence.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return fmt.Errorf("init postgres audit store: %w", err)
		}
		defer audit.Close()
		opts.Audit = audit
	}

	srv, err := rakserver.Listen(cfg.Server.ListenAddress, cfg.Server.GUID, cfg.Server.MOTD, log, opts)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer srv.Close()

	log.Info("server listening", logging.Fields{"addr": cfg.Server.ListenAddress, "guid": cfg.Server.GUID})

	go logEvents(srv, log)

	return srv.Serve()
}

func logEvents(srv *rakserver.Server, log *logging.Logger) {
	for ev := range srv.Events() {
		switch ev.Type {
		case rakserver.EventConnected:
			log.Info("peer connected", logging.Fields{"guid": ev.GUID, "addr": ev.Peer.Addr.String()})
		case rakserver.EventDisconnected:
			log.Info("peer disconnected", logging.Fields{"guid": ev.GUID})
		case rakserver.EventPacket:
			log.Debug("packet received", logging.Fields{"guid": ev.GUID, "bytes": len(ev.Data)})
		}
	}
}
