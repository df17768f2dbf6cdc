package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mcpmux/internal/adder"
	"mcpmux/internal/app"
	"mcpmux/internal/authstore"
	"mcpmux/internal/catalog"
	"mcpmux/internal/configstore"
)

// argumentNames renders the Name field of each missing argument requirement.
func argumentNames(missing []catalog.ArgumentRequirement) []string {
	names := make([]string, 0, len(missing))
	for _, m := range missing {
		names = append(names, m.Name)
	}
	return names
}

// newAddCmd creates the `add` administrative command: validate name against
// the catalog, resolve any required arguments and stored credentials, and
// write the resulting server into the config store's active set. The
// running daemon's filesystem watcher picks up the change and admits it.
func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> [K=V...]",
		Short: "Activate a known backend MCP server",
		Long: `add validates name against the catalog, resolves any required
arguments and stored credentials, and writes the resulting server into
config.json's active set. The running daemon picks up the change through
its filesystem watcher.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAdd,
	}
}

func runAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	userArgs, err := parseKeyValueArgs(args[1:])
	if err != nil {
		return newUsageError(err)
	}

	paths := resolvePaths()
	registry := catalog.NewRegistry(paths.registry, paths.index)
	auth := authstore.NewStore(paths.auth)
	store := configstore.NewStore(paths.config)

	entry, ok, err := registry.Get(name)
	if err != nil {
		return fmt.Errorf("catalog unavailable: %w", err)
	}
	if !ok {
		names, _ := registry.Names()
		sort.Strings(names)
		return newUsageError(fmt.Errorf("%q is not a known server; known servers: %s", name, strings.Join(names, ", ")))
	}

	if missing := entry.MissingArguments(userArgs); len(missing) > 0 {
		return newUsageError(fmt.Errorf("%q needs arguments: %s", name, strings.Join(argumentNames(missing), ", ")))
	}

	stored, err := auth.Load(name)
	if err != nil {
		return fmt.Errorf("auth store unavailable: %w", err)
	}
	if missing := entry.MissingAuth(stored); len(missing) > 0 {
		var names []string
		for _, m := range missing {
			names = append(names, m.Name+"=VALUE")
		}
		return fmt.Errorf("%q needs credentials; run: mcpmux store-auth %s %s", name, name, strings.Join(names, " "))
	}

	server := adder.BuildServer(entry, userArgs, stored)

	doc, err := store.Load()
	if err != nil {
		return fmt.Errorf("load config store: %w", err)
	}
	doc = upsertServer(doc, server)

	if err := store.Save(doc); err != nil {
		return fmt.Errorf("save config store: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%q added to the active set; the running daemon will pick it up shortly\n", name)
	return nil
}

// paths is the set of on-disk locations derived from MCP_CONFIG_PATH: the
// config store itself, plus the catalog, embeddings index, and auth store
// files expected alongside it (see app.ResolveSiblingPaths).
type paths struct {
	config   string
	registry string
	index    string
	auth     string
}

func resolvePaths() paths {
	configPath := os.Getenv("MCP_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	sibling := app.ResolveSiblingPaths(configPath)
	return paths{
		config:   configPath,
		registry: sibling.Registry,
		index:    sibling.Index,
		auth:     sibling.Auth,
	}
}

// parseKeyValueArgs parses "K=V" command-line operands into a map, rejecting
// any operand without an '='.
func parseKeyValueArgs(operands []string) (map[string]string, error) {
	out := make(map[string]string, len(operands))
	for _, op := range operands {
		k, v, found := strings.Cut(op, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid argument %q, expected K=V", op)
		}
		out[k] = v
	}
	return out, nil
}

// upsertServer replaces any existing entry for server.Name and ensures it is
// present in the active queue exactly once, appended at the hot end.
func upsertServer(doc configstore.Document, server configstore.Server) configstore.Document {
	replaced := false
	for i, s := range doc.Servers {
		if s.Name == server.Name {
			doc.Servers[i] = server
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Servers = append(doc.Servers, server)
	}

	for _, n := range doc.ActiveMCPQueue {
		if n == server.Name {
			return doc
		}
	}
	doc.ActiveMCPQueue = append(doc.ActiveMCPQueue, server.Name)
	return doc
}
