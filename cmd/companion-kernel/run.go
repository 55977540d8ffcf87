package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/companion-kernel/internal/dialogue"
	"github.com/haasonsaas/companion-kernel/internal/observability"
	"github.com/haasonsaas/companion-kernel/internal/session"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		character string
		prompt    string
		message   string
		stream    bool
		timeline  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Wire the kernel and run one scripted conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := newLogger(flags).Slog()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := buildContainer(logger, cfg)
			if err := c.start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				c.stop(stopCtx)
			}()

			sess := c.sessions.Create(session.CreateOptions{
				CharacterID:  character,
				SystemPrompt: prompt,
				MaxHistory:   cfg.Session.MaxHistory,
			})

			out := cmd.OutOrStdout()
			req := dialogue.ChatRequest{
				SessionID: sess.ID,
				Content:   dialogue.TextContent(message),
				UseTools:  true,
			}

			if stream {
				chunks, err := c.orch.StreamChat(ctx, req)
				if err != nil {
					return err
				}
				for chunk := range chunks {
					fmt.Fprint(out, chunk)
				}
				fmt.Fprintln(out)
			} else {
				reply, err := c.orch.Chat(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply)
			}

			mood := c.emotion.Analyze(ctx, message, character)
			fmt.Fprintf(out, "[emotion] primary=%s confidence=%.2f valence=%+.2f\n",
				mood.Primary, mood.Confidence, mood.Valence)

			// Let memory ingestion drain before reporting.
			waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
			defer waitCancel()
			_ = c.bus.WaitEmpty(waitCtx)
			fmt.Fprintf(out, "[memory] records=%d\n", c.memory.Records().Len())

			if timeline {
				events, err := c.events.GetBySessionID(sess.ID)
				if err == nil {
					fmt.Fprintln(out, observability.FormatTimeline(observability.BuildTimeline(events)))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&character, "character", "", "character profile for emotion overlays")
	cmd.Flags().StringVar(&prompt, "system-prompt", "You are a helpful companion.", "session system prompt")
	cmd.Flags().StringVar(&message, "message", "Hello there!", "user message to send")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response token by token")
	cmd.Flags().BoolVar(&timeline, "timeline", false, "print the session's event timeline after the run")
	return cmd
}
