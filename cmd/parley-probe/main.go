// ABOUTME: Websocket probe client for smoke-testing a running gateway
// ABOUTME: Connects with identity claims, runs scripted steps, prints every received frame

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley-gateway/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "TOML scenario config (optional)")
	gatewayURL := flag.String("url", "ws://localhost:8080/ws", "gateway websocket URL")
	userID := flag.String("user", "", "user identity claim")
	expertID := flag.String("expert", "", "expert identity claim")
	flag.Parse()

	cfg := &Config{Gateway: GatewayConfig{URL: *gatewayURL}}
	if *configPath != "" {
		var err error
		cfg, err = Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	if *userID != "" {
		cfg.Identity.UserID = *userID
	}
	if *expertID != "" {
		cfg.Identity.ExpertID = *expertID
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	u, err := url.Parse(cfg.Gateway.URL)
	if err != nil {
		return fmt.Errorf("parsing gateway URL: %w", err)
	}
	q := u.Query()
	if cfg.Identity.UserID != "" {
		q.Set("user_id", cfg.Identity.UserID)
	}
	if cfg.Identity.ExpertID != "" {
		q.Set("expert_id", cfg.Identity.ExpertID)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close()

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "connected to %s", u.Host)
	if cfg.Identity.UserID != "" {
		fmt.Fprintf(os.Stderr, " user=%s", cfg.Identity.UserID)
	}
	if cfg.Identity.ExpertID != "" {
		fmt.Fprintf(os.Stderr, " expert=%s", cfg.Identity.ExpertID)
	}
	fmt.Fprintln(os.Stderr)

	// Print frames as they arrive; closes done when the connection drops.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("read error: %v", err)
				}
				return
			}
			printFrame(data)
		}
	}()

	if err := runSteps(ctx, conn, cfg.Steps); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		// Clean close so the gateway sees a normal disconnect.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
	}
	return nil
}

// runSteps executes the scripted scenario: join frames and raw event frames,
// each after its configured delay.
func runSteps(ctx context.Context, conn *websocket.Conn, steps []Step) error {
	yellow := color.New(color.FgYellow)

	for i, step := range steps {
		wait, err := step.Wait()
		if err != nil {
			return err
		}
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
		}

		var frame []byte
		switch {
		case step.Join != "":
			frame, err = wire.Encode(wire.EventJoinRoom, step.Join)
			yellow.Fprintf(os.Stderr, ">> join %s\n", step.Join)
		default:
			data := step.Data
			if data == "" {
				data = "null"
			}
			frame, err = wire.Encode(step.Event, json.RawMessage(data))
			yellow.Fprintf(os.Stderr, ">> %s %s\n", step.Event, data)
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}

		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("step %d: sending frame: %w", i+1, err)
		}
	}
	return nil
}

func printFrame(data []byte) {
	cyan := color.New(color.FgCyan)

	frame, err := wire.DecodeFrame(data)
	if err != nil {
		fmt.Printf("<< %s\n", data)
		return
	}
	cyan.Printf("<< %s ", frame.Event)
	fmt.Printf("%s\n", frame.Data)
}
