// ABOUTME: probe subcommand: a minimal hub client for checking a running server
// ABOUTME: Connects, authenticates, joins namespaces and prints events until interrupted

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/hubgate/internal/auth"
	"github.com/2389/hubgate/internal/hub"
)

func runProbe(ctx context.Context, args []string) error {
	fs, _ := newFlagSet("probe")
	url := fs.StringP("url", "u", "ws://localhost:8080/ws", "hub websocket URL")
	token := fs.StringP("token", "t", os.Getenv("HUBGATE_TOKEN"), "JWT to authenticate with (env HUBGATE_TOKEN)")
	namespaces := fs.StringSlice("join", nil, "namespaces to join after authenticating")
	skipAuth := fs.Bool("no-auth", false, "do not authenticate; watch the server time the connection out")
	timeout := fs.Duration("timeout", 10*time.Second, "connect and handshake timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c, err := hub.Dial(dialCtx, *url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	id, err := c.WaitConnected(dialCtx)
	if err != nil {
		return fmt.Errorf("waiting for connect: %w", err)
	}
	green.Printf("connected ")
	gray.Printf("socket=%s\n", id)

	if !*skipAuth {
		if *token == "" {
			return errors.New("--token or HUBGATE_TOKEN is required (or pass --no-auth)")
		}
		data, err := c.Authenticate(dialCtx, auth.Credentials{Token: *token})
		if err != nil {
			var remote *hub.RemoteError
			if errors.As(err, &remote) {
				red.Printf("unauthorized: %s\n", remote.Message)
				return fmt.Errorf("authentication rejected")
			}
			return fmt.Errorf("authenticating: %w", err)
		}
		green.Printf("authenticated ")
		gray.Println(string(data))

		for _, ns := range *namespaces {
			if err := c.Join(dialCtx, ns); err != nil {
				return fmt.Errorf("joining %s: %w", ns, err)
			}
			green.Printf("joined ")
			fmt.Println(hub.NormalizeNamespace(ns))
		}
	}

	for {
		f, err := c.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, hub.ErrClientClosed):
			red.Printf("disconnected: %s\n", c.Reason())
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}

		gray.Printf("%s ", time.Now().Format("15:04:05"))
		fmt.Printf("%s %s", f.Namespace, f.Event)
		if len(f.Data) > 0 {
			fmt.Printf(" %s", strings.TrimSpace(string(f.Data)))
		}
		fmt.Println()
	}
}
