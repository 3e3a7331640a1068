package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cloudfarm/internal/realtime"
)

var watchCmd = &cobra.Command{
	Use:   "watch [channels...]",
	Short: "Follow realtime events",
	Long: `watch connects to the realtime channel, subscribes to the given channels on
top of the automatic ones and prints every event. Type "r" and Enter to retry
after the connection gave up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, _, err := openClient(ctx, true)
		if err != nil {
			return err
		}
		defer client.Close()
		rt := client.Realtime
		if rt == nil {
			return fmt.Errorf("realtime is disabled")
		}
		if _, ok := client.Session.Token(); !ok {
			return fmt.Errorf("not logged in, run 'cloudfarm login'")
		}

		out := cmd.OutOrStdout()
		var mu sync.Mutex
		emit := func(line string) {
			mu.Lock()
			fmt.Fprintln(out, line)
			mu.Unlock()
		}

		rt.OnState(func(st realtime.Status) { emit(indicator(st)) })
		rt.OnError(func(err error) {
			if errors.Is(err, realtime.ErrAuthRejected) || errors.Is(err, realtime.ErrReconnectExhausted) {
				emit(color.RedString("! %v", err))
			}
		})
		rt.AddListener(realtime.AnyEvent, func(ev realtime.Event) {
			if ev.Type == realtime.EventPong {
				return
			}
			emit(formatEvent(ev))
		})
		for _, ch := range args {
			if err := rt.Subscribe(ch); err != nil {
				return err
			}
		}
		emit(indicator(rt.Status()))

		go retryOnInput(ctx, rt, emit)
		<-ctx.Done()
		return nil
	},
}

func retryOnInput(ctx context.Context, rt *realtime.Client, emit func(string)) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if strings.TrimSpace(scanner.Text()) != "r" {
			continue
		}
		if err := rt.Connect(ctx); err != nil {
			emit(color.RedString("! %v", err))
		}
	}
}

var sendCmd = &cobra.Command{
	Use:   "send <channel> <json>",
	Short: "Publish a message on a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data json.RawMessage
		if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
			return fmt.Errorf("payload must be JSON: %w", err)
		}

		ctx := cmd.Context()
		client, _, err := openClient(ctx, true)
		if err != nil {
			return err
		}
		defer client.Close()
		if client.Realtime == nil {
			return fmt.Errorf("realtime is disabled")
		}
		if client.Realtime.State() != realtime.StateConnected {
			return fmt.Errorf("realtime not connected (%s)", client.Realtime.State())
		}
		if err := client.Realtime.Send(args[0], data); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Sent to %s", args[0])
		return nil
	},
}
