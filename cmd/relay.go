package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/clawstat/internal/adapters/relay"
	"github.com/spf13/cobra"
)

func newRelayCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the dashboard and relay its websocket to the gateway",
		Long:  "Serve static dashboard files and bridge every websocket upgrade on the same port to the gateway. Frames are forwarded verbatim in both directions and close codes are propagated.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, addr := app.wireRelayServer()
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Dashboard on http://localhost%s, relaying to %s\n", addr, app.cfg.GetString(keyGatewayURL)); err != nil {
				return err
			}
			return server.ListenAndServe(ctx, addr)
		},
	}

	flags := cmd.Flags()
	flags.String("gateway", relay.DefaultUpstreamURL, "Gateway websocket URL (env OPENCLAW_GW_WS)")
	flags.Int("port", relay.DefaultPort, "Listen port (env AMY_DASHBOARD_PORT)")
	flags.String("static-dir", ".", "Directory served as the dashboard")
	flags.String("index", relay.DefaultIndexFile, "File served for /")
	flags.String("upstream-origin", relay.DefaultOrigin, "Origin header sent to the gateway")
	flags.StringSlice("allow-origin", nil, "Extra browser origins allowed to upgrade (host patterns)")

	return cmd
}
