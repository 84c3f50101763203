package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maastricht-university/prosody-stream/clients"
)

func checkCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the emotion service is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			url := a.cfg.Services.Emotion.URL
			emo := clients.NewEmotion(clients.NewHTTPWithTimeout(timeout), url, a.cfg.Audio.Filename, a.cfg.Audio.MimeType)
			if err := emo.Ping(ctx); err != nil {
				return fmt.Errorf("emotion service at %s: %w", url, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "emotion service at %s: ok\n", url)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Give up after this long")
	return cmd
}
