package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeUsage indicates invalid arguments or usage.
	ExitCodeUsage = 1
	// ExitCodeFailure indicates an operational failure (I/O, network, validation).
	ExitCodeFailure = 2
)

// usageError marks an error as a usage problem so getExitCode maps it to
// ExitCodeUsage instead of the default ExitCodeFailure.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// newUsageError wraps err so Execute reports ExitCodeUsage for it.
func newUsageError(err error) error {
	return &usageError{err: err}
}

// rootCmd represents the base command for the mcpmux application.
var rootCmd = &cobra.Command{
	Use:   "mcpmux",
	Short: "Aggregate and route MCP backend servers through a single upstream endpoint",
	Long: `mcpmux maintains a catalog of MCP backend servers, admits a bounded
active set of them on demand, and exposes the union of their tools,
resources, and prompts through a single upstream MCP server.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpmux version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var usage *usageError
	if errors.As(err, &usage) {
		return ExitCodeUsage
	}
	return ExitCodeFailure
}

func init() {
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newStoreAuthCmd())
	rootCmd.AddCommand(newVersionCmd())
}
