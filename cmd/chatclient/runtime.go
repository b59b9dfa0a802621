package main

import (
	"fmt"
	"time"

	"github.com/chatrelay/chatrelay/client"
	"github.com/chatrelay/chatrelay/config"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/transport"
)

const replyTimeout = 5 * time.Second

// connectedClient dials the server, starts the pump loop, and returns
// a client ready for request methods. Callers must call done() when
// finished so the transport is closed and the pump goroutine exits.
func connectedClient() (c *client.Client, done func(), err error) {
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log := logger.NewDefaultLogger()

	c, err = client.New(cfg.ServerURL, cfg.KeyStorePath, []byte(identifier), log)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing client: %w", err)
	}
	if err := c.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", cfg.ServerURL, err)
	}

	go c.Run()

	return c, func() { _ = c.Close() }, nil
}

// awaitTag blocks until an event with one of the given tags arrives on
// c's Updates() channel, the channel closes (disconnect), or timeout
// elapses.
func awaitTag(c *client.Client, timeout time.Duration, tags ...string) (transport.Event, bool) {
	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[t] = true
	}

	deadline := time.After(timeout)
	for {
		select {
		case update, ok := <-c.Updates():
			if !ok {
				return transport.Event{}, false
			}
			if update.Disconnect {
				return transport.Event{}, false
			}
			if wanted[update.Event.Tag] {
				return update.Event, true
			}
		case <-deadline:
			return transport.Event{}, false
		}
	}
}
