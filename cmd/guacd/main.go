package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/abhi7860/guacamole-server/internal/backends/loopback"
	"github.com/abhi7860/guacamole-server/internal/config"
	"github.com/abhi7860/guacamole-server/internal/logging"
	"github.com/abhi7860/guacamole-server/internal/observability"
	"github.com/abhi7860/guacamole-server/internal/plugins"
	"github.com/abhi7860/guacamole-server/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to guacd.toml")
	listen := flag.String("listen", "", "override listen address")
	admin := flag.String("admin", "", "override admin address")
	flag.Parse()

	logging.ConfigureRuntime()
	log := observability.InitLogger("guacd")

	if err := run(log, *configPath, *listen, *admin); err != nil {
		fmt.Fprintf(os.Stderr, "guacd: %v\n", err)
		os.Exit(1)
	}
}

func run(log zerolog.Logger, configPath, listen, admin string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := loadDaemonConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if listen != "" {
		cfg.ListenAddr = listen
	}
	if admin != "" {
		cfg.AdminAddr = admin
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	registry, err := buildBuiltinRegistry(cfg.Backends)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := server.New(cfg, registry, log)
	return gw.Run(ctx)
}

func buildBuiltinRegistry(names []string) (*plugins.Registry, error) {
	registry := plugins.NewRegistry()
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "loopback":
			if err := registry.Register("loopback", loopback.New); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown builtin backend: %s", name)
		}
	}
	return registry, nil
}
