// Package main is the entry point for the atelierd daemon.
// atelierd stores conversations in SQLite and serves the websocket event
// contract used by the atelier client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/chatd"
	"github.com/tOgg1/atelier/internal/chatd/store"
	"github.com/tOgg1/atelier/internal/config"
	"github.com/tOgg1/atelier/internal/logging"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configFile := flag.String("config", "", "config file (default is $HOME/.config/atelier/config.yaml)")
	httpAddr := flag.String("http-addr", "", "override daemon.http_addr")
	grpcAddr := flag.String("grpc-addr", "", "override daemon.grpc_addr")
	dbPath := flag.String("db", "", "override database.path")
	usersFile := flag.String("users", "", "YAML file of user profiles to register at startup")
	logLevel := flag.String("log-level", "", "override logging level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "override logging format (json, console)")
	flag.Parse()

	cfg, loader, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *httpAddr != "" {
		cfg.Daemon.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.Daemon.GRPCAddr = *grpcAddr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	logger := logging.Component("atelierd")

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}

	if cfgUsed := loader.ConfigFileUsed(); cfgUsed != "" {
		logger.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("atelierd starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Path:           cfg.DatabasePath(),
		MaxConnections: cfg.Database.MaxConnections,
		BusyTimeout:    time.Duration(cfg.Database.BusyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		os.Exit(1)
	}
	defer st.Close()

	if *usersFile != "" {
		n, err := registerUsers(ctx, st, *usersFile)
		if err != nil {
			logger.Error().Err(err).Str("file", *usersFile).Msg("failed to register users")
			os.Exit(1)
		}
		logger.Info().Int("users", n).Msg("registered user profiles")
	}

	opts := chatd.OptionsFromConfig(cfg.Daemon)
	opts.Version = version
	daemon := chatd.New(st, logger, opts)

	if err := daemon.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("atelierd exited with error")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

type userProfile struct {
	UID       string `yaml:"uid"`
	Username  string `yaml:"username"`
	Name      string `yaml:"name"`
	AvatarURL string `yaml:"avatar_url"`
}

// registerUsers upserts the profiles listed in path.
func registerUsers(ctx context.Context, st *store.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var file struct {
		Users []userProfile `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, u := range file.Users {
		err := st.UpsertUser(ctx, chat.Counterpart{
			UID:       u.UID,
			Username:  u.Username,
			Name:      u.Name,
			AvatarURL: u.AvatarURL,
		})
		if err != nil {
			return 0, err
		}
	}
	return len(file.Users), nil
}
