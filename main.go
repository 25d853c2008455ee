package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"typed_kv_store/internal/config"
	"typed_kv_store/internal/hub"
	"typed_kv_store/internal/kvstore"
	"typed_kv_store/internal/typedkv"
)

const usage = `usage: typedkv <command> [flags] [args]

commands:
  get   <key>           print the value stored under key
  set   <key> <value>   store value (JSON, or plain text) under key
  del   <key>           delete key
  has   <key>           report whether key is set
  keys                  list every key
  watch <key>...        print changes to keys until interrupted
  serve                 run the HTTP API and change relay
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatalf("typedkv: %v", err)
	}
}

// globalFlags are accepted by every command and override the config file and
// the environment.
type globalFlags struct {
	configPath string
	backend    string
	path       string
	shards     int
	hubURL     string
	listenAddr string
	verbose    bool
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *globalFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	g := &globalFlags{}
	fs.StringVar(&g.configPath, "config", "", "YAML config file")
	fs.StringVar(&g.backend, "backend", "", "storage backend: memory, leveldb, sqlite, dir or sharded-leveldb")
	fs.StringVar(&g.path, "path", "", "data directory (or file for sqlite)")
	fs.IntVar(&g.shards, "shards", 0, "shard count for sharded-leveldb")
	fs.StringVar(&g.hubURL, "hub", "", "change relay URL, e.g. ws://localhost:8000/api/hub")
	fs.StringVar(&g.listenAddr, "listen", "", "HTTP listen address for serve")
	fs.BoolVar(&g.verbose, "v", false, "log to stderr")
	return fs, g
}

// loadConfig applies only the flags that were set on top of the loaded
// config.
func loadConfig(fs *flag.FlagSet, g *globalFlags) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = g.backend
		case "path":
			cfg.Path = g.path
		case "shards":
			cfg.Shards = g.shards
		case "hub":
			cfg.HubURL = g.hubURL
		case "listen":
			cfg.ListenAddr = g.listenAddr
		case "v":
			cfg.Verbose = g.verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, stderr io.Writer) *log.Logger {
	if !cfg.Verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(stderr, "typedkv: ", log.LstdFlags)
}

// session is an open typed store plus the relay client feeding it, if any.
type session struct {
	store  *typedkv.Store
	client *hub.Client
}

func (s *session) Close() error {
	err := s.store.Close()
	if s.client != nil {
		err = errors.Join(err, s.client.Close())
	}
	return err
}

// openSession opens the configured backend. Changes from other processes
// come from the relay when one is configured, otherwise from the backend
// itself when it can report them (the dir backend). When relay is non-nil
// this process hosts the hub and announces its own writes on it.
func openSession(ctx context.Context, cfg config.Config, relay *hub.Server, logger *log.Logger) (*session, error) {
	opts := cfg.StoreOptions()
	opts.Logger = logger
	backend, err := kvstore.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	var changes kvstore.ChangeSource
	if source, ok := backend.(kvstore.ChangeSource); ok {
		changes = source
	}

	var client *hub.Client
	if cfg.HubURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err = hub.Dial(dialCtx, cfg.HubURL, hub.ClientOptions{Logger: logger})
		if err != nil {
			backend.Close()
			return nil, err
		}
		backend = hub.NewPublishingStore(backend, client, logger)
		changes = client
	}
	if relay != nil {
		backend = hub.NewPublishingStore(backend, relay, logger)
	}

	store := typedkv.New(backend, typedkv.Options{Changes: changes, Logger: logger})
	return &session{store: store, client: client}, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	name, args := args[0], args[1:]

	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	fs, g := newFlagSet(name, stderr)
	var tag string
	if name == "set" {
		fs.StringVar(&tag, "type", "", "store the value under this type tag, e.g. Date or BigInt")
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() < cmd.minArgs || (cmd.maxArgs >= 0 && fs.NArg() > cmd.maxArgs) {
		return fmt.Errorf("%w: %s takes %s", errUsage, name, cmd.argsHelp)
	}

	cfg, err := loadConfig(fs, g)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, stderr)

	var relay *hub.Server
	if name == "serve" {
		relay = hub.NewServer(hub.ServerOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		})
	}

	sess, err := openSession(ctx, cfg, relay, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	return cmd.run(ctx, invocation{
		cfg:     cfg,
		logger:  logger,
		session: sess,
		relay:   relay,
		args:    fs.Args(),
		tag:     tag,
		stdout:  stdout,
	})
}
