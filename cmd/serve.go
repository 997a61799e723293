package cmd

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"objectos/internal/app"
)

var (
	serveConfigPath string
	serveDebug      bool
	serveSilent     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the objectos server",
	Long: `Start the objectos kernel and serve the REST API.

The server loads its configuration from --config-path (default ~/.objectos),
boots every plugin in dependency order, registers metadata definitions and
listens on the configured address until SIGINT or SIGTERM.

When running under systemd with Type=notify, readiness and shutdown are
signalled over the notify socket.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.New(app.Options{
		ConfigPath: serveConfigPath,
		Debug:      serveDebug,
		Silent:     serveSilent,
		Version:    GetVersion(),
		OnReady: func() {
			// Best effort: no-op outside systemd.
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
		},
	})
	if err != nil {
		return err
	}

	defer func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}()

	return application.Run(cmd.Context())
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "",
		"Configuration directory (default ~/.objectos)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false,
		"Enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false,
		"Disable all log output")

	rootCmd.AddCommand(serveCmd)
}
