package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"objectos/internal/apierr"
	"objectos/internal/client"
	"objectos/pkg/logging"
)

// Exit codes for CLI commands, stable for scripting.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeUsage indicates invalid arguments or a validation failure.
	ExitCodeUsage = 2
	// ExitCodeNotFound indicates the addressed resource does not exist.
	ExitCodeNotFound = 4
	// ExitCodePermission indicates the caller lacks permission.
	ExitCodePermission = 5
)

var (
	// serverURL is the base URL of the objectos server for client commands.
	serverURL string

	// authToken is the bearer token for client commands. The OBJECTOS_TOKEN
	// environment variable applies when the flag is unset.
	authToken string
)

// rootCmd is the entry point when objectos is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "objectos",
	Short: "Plugin-based object runtime with permissions, audit and background jobs",
	Long: `objectos runs a microkernel that composes storage, permissions, audit,
jobs, notifications and workflows from plugins, and serves records over a
REST API.

'objectos serve' starts the kernel. Every other subcommand is a client of a
running server, selected with --server or the default localhost address.`,
	SilenceUsage: true,
}

// SetVersion injects the build version, called from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the injected build version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the CLI and exits the process with a semantic exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "objectos version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps typed errors onto exit codes so scripts can branch
// without parsing messages.
func getExitCode(err error) int {
	switch {
	case apierr.IsValidation(err):
		return ExitCodeUsage
	case apierr.IsNotFound(err):
		return ExitCodeNotFound
	case apierr.IsPermissionDenied(err):
		return ExitCodePermission
	}
	return ExitCodeError
}

// apiClient builds the HTTP client for the server the flags point at.
// Client commands log errors only; tables and results go to stdout.
func apiClient() *client.Client {
	logging.InitForCLI(logging.LevelWarn, os.Stderr)

	token := authToken
	if token == "" {
		token = os.Getenv("OBJECTOS_TOKEN")
	}
	return client.New(client.Options{BaseURL: serverURL, Token: token})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080",
		"Base URL of the objectos server")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "",
		"Bearer token (defaults to $OBJECTOS_TOKEN)")
}
