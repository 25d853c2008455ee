package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"typed_kv_store/internal/codec"
	"typed_kv_store/internal/config"
	"typed_kv_store/internal/hub"
	"typed_kv_store/internal/server"
)

type invocation struct {
	cfg     config.Config
	logger  *log.Logger
	session *session
	relay   *hub.Server
	args    []string
	tag     string
	stdout  io.Writer
}

type command struct {
	minArgs  int
	maxArgs  int // -1 for no limit
	argsHelp string
	run      func(ctx context.Context, inv invocation) error
}

var commands = map[string]command{
	"get":   {1, 1, "one key", runGet},
	"set":   {2, 2, "a key and a value", runSet},
	"del":   {1, 1, "one key", runDel},
	"has":   {1, 1, "one key", runHas},
	"keys":  {0, 0, "no arguments", runKeys},
	"watch": {1, -1, "at least one key", runWatch},
	"serve": {0, 0, "no arguments", runServe},
}

// parseValue reads a command-line value as JSON, falling back to the literal
// text. With a tag, the JSON (or quoted text) is decoded as data of that tag.
// Big integers are always read as text so that no digits are lost.
func parseValue(text, tag string) (any, error) {
	if tag != "" {
		data := json.RawMessage(text)
		bigDigits := codec.KindOf(tag) == codec.BigInteger && !strings.HasPrefix(text, `"`)
		if bigDigits || !json.Valid(data) {
			quoted, err := json.Marshal(text)
			if err != nil {
				return nil, err
			}
			data = quoted
		}
		return codec.DecodeTagged(tag, data)
	}

	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return text, nil
	}
	return value, nil
}

func formatValue(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runGet(_ context.Context, inv invocation) error {
	value, err := inv.session.store.Get(inv.args[0])
	if err != nil {
		return err
	}
	out, err := formatValue(value)
	if err != nil {
		return err
	}
	fmt.Fprintln(inv.stdout, out)
	return nil
}

func runSet(_ context.Context, inv invocation) error {
	value, err := parseValue(inv.args[1], inv.tag)
	if err != nil {
		return fmt.Errorf("parse value: %w", err)
	}
	return inv.session.store.Set(inv.args[0], value)
}

func runDel(_ context.Context, inv invocation) error {
	return inv.session.store.Delete(inv.args[0])
}

func runHas(_ context.Context, inv invocation) error {
	ok, err := inv.session.store.Has(inv.args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(inv.stdout, ok)
	return nil
}

func runKeys(_ context.Context, inv invocation) error {
	keys, err := inv.session.store.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintln(inv.stdout, key)
	}
	return nil
}

type watchEvent struct {
	key   string
	value any
}

func runWatch(ctx context.Context, inv invocation) error {
	events := make(chan watchEvent, 64)
	for _, key := range inv.args {
		_, err := inv.session.store.Watch(key, func(value any) {
			select {
			case events <- watchEvent{key: key, value: value}:
			default:
				inv.logger.Printf("watch: dropping change to %q", key)
			}
		})
		if err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			out, err := formatValue(ev.value)
			if err != nil {
				inv.logger.Printf("watch: format %q: %v", ev.key, err)
				continue
			}
			fmt.Fprintf(inv.stdout, "%s\t%s\n", ev.key, out)
		}
	}
}

func runServe(ctx context.Context, inv invocation) error {
	rest := server.NewRestServer(inv.session.store, inv.relay)

	httpServer := &http.Server{
		Addr:    inv.cfg.ListenAddr,
		Handler: rest.Handler(),
	}

	inv.logger.Printf("HTTP server listening on %s", inv.cfg.ListenAddr)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	inv.logger.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
