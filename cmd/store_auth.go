package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mcpmux/internal/authstore"
)

// newStoreAuthCmd creates the `store-auth` administrative command: persist
// one or more K=V credential values for a catalog name, consulted by add()
// instead of the process environment.
func newStoreAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "store-auth <name> K=V...",
		Short: "Store credential values for a backend MCP server",
		Long: `store-auth records one or more K=V credential values under name in
the auth store, merging with any previously stored values. A subsequent
add invocation consults these values to satisfy auth_requirements.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runStoreAuth,
	}
}

func runStoreAuth(cmd *cobra.Command, args []string) error {
	name := args[0]
	values, err := parseKeyValueArgs(args[1:])
	if err != nil {
		return newUsageError(err)
	}

	paths := resolvePaths()
	store := authstore.NewStore(paths.auth)

	if err := store.Set(name, values); err != nil {
		return fmt.Errorf("store credentials for %q: %w", name, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "stored %d credential value(s) for %q\n", len(values), name)
	return nil
}
