package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/clawstat/internal/adapters/gateway/ws"
	logfile "github.com/bnema/clawstat/internal/adapters/logs/file"
	snapshotfile "github.com/bnema/clawstat/internal/adapters/snapshot/file"
	"github.com/bnema/clawstat/internal/application"
	"github.com/bnema/clawstat/internal/domain"
	"github.com/spf13/cobra"
)

func newCollectCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Snapshot the gateway into status.json",
		Long:  "Connect to the gateway, run the status call battery, fetch recent chat history, scan today's log for provider cooldowns and write the snapshot atomically. With --upload the snapshot is copied to the bucket.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := app.wirePublisher(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			var result application.PublishResult
			err = runWithSpinner(ctx, cmd.ErrOrStderr(), "Collecting gateway status...", func(ctx context.Context) error {
				var publishErr error
				result, publishErr = rt.publisher.Publish(ctx)
				return publishErr
			})
			if err != nil && !errors.Is(err, domain.ErrUpload) {
				return err
			}

			out := cmd.OutOrStdout()
			if _, printErr := fmt.Fprintf(out, "Collected → %s (agents: %d, missing calls: %d)\n",
				result.ArtifactPath, len(result.Snapshot.AgentIDs()), result.Snapshot.MissingCalls()); printErr != nil {
				return printErr
			}
			if err != nil {
				return err
			}

			if result.UploadedTo != "" {
				_, err = fmt.Fprintf(out, "Uploaded → %s\n", result.UploadedTo)
				return err
			}
			if rt.bucket == "" {
				_, err = fmt.Fprintln(out, "Upload skipped (set --upload or GCS_BUCKET to publish)")
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("gateway", ws.DefaultGatewayURL, "Gateway websocket URL (env OPENCLAW_GW_WS)")
	flags.String("token", "", "Gateway auth token (env OPENCLAW_GW_TOKEN)")
	flags.String("origin", ws.DefaultOrigin, "Origin header sent on the gateway upgrade")
	flags.Duration("call-timeout", ws.DefaultCallTimeout, "Per call timeout")
	flags.String("openclaw-config", "", "OpenClaw config file holding the gateway token (default ~/.openclaw/openclaw.json)")
	flags.String("output", snapshotfile.DefaultPath, "Snapshot output path")
	flags.String("upload", "", "Bucket URL to publish the snapshot to, e.g. gs://bucket (env GCS_BUCKET)")
	flags.String("log-dir", logfile.DefaultDir, "Directory holding gateway logs")
	flags.String("rules", "", "Provider cooldown rules file (default ~/.config/clawstat/rules.toml)")
	flags.String("history-db", "", "SQLite database recording collect runs (disabled when empty)")
	flags.Int("history-limit", application.DefaultHistoryLimit, "Chat messages fetched per session")
	flags.Int("workers", application.DefaultHistoryWorkers, "Concurrent chat history fetches")
	flags.String("discovery", string(domain.DiscoveryAll), "Session discovery mode: all or top")
	flags.Int("top-agents", domain.DefaultDiscoveryPolicy().TopAgents, "Agents inspected in top discovery")
	flags.Int("top-sessions", domain.DefaultDiscoveryPolicy().TopSessions, "Sessions per agent inspected in top discovery")

	return cmd
}
