package adder

import (
	"context"
	"fmt"
	"sort"

	"mcpmux/internal/activeset"
	"mcpmux/internal/authstore"
	"mcpmux/internal/catalog"
	"mcpmux/internal/configstore"
	"mcpmux/pkg/logging"
)

// Adder validates and materializes catalog entries into live backends.
type Adder struct {
	registry *catalog.Registry
	auth     *authstore.Store
	manager  *activeset.Manager
}

// New creates an Adder wired to the shared catalog, auth store, and active
// set manager.
func New(registry *catalog.Registry, auth *authstore.Store, manager *activeset.Manager) *Adder {
	return &Adder{registry: registry, auth: auth, manager: manager}
}

// Add implements add(name, user_args?): validate against the catalog,
// report the first unmet requirement, or materialize and admit.
func (a *Adder) Add(ctx context.Context, name string, userArgs map[string]string) (Result, error) {
	entry, ok, err := a.registry.Get(name)
	if err != nil {
		return Result{}, fmt.Errorf("catalog unavailable: %w", err)
	}
	if !ok {
		names, _ := a.registry.Names()
		sort.Strings(names)
		return Result{
			Kind:           ResultUnknownServer,
			Message:        fmt.Sprintf("%q is not a known server", name),
			SuggestedNames: names,
		}, nil
	}

	if a.manager.IsActive(name) {
		if err := a.manager.Touch(ctx, name); err != nil {
			return Result{}, fmt.Errorf("touch %s: %w", name, err)
		}
		return Result{
			Kind:    ResultAlreadyActive,
			Message: fmt.Sprintf("%q is already active", name),
		}, nil
	}

	if missing := entry.MissingArguments(userArgs); len(missing) > 0 {
		return Result{
			Kind:           ResultNeedsArguments,
			Message:        fmt.Sprintf("%q needs %d more argument(s) before it can start", name, len(missing)),
			NeedsArguments: missing,
		}, nil
	}

	stored, err := a.auth.Load(name)
	if err != nil {
		return Result{}, fmt.Errorf("auth store unavailable: %w", err)
	}
	if missing := entry.MissingAuth(stored); len(missing) > 0 {
		return Result{
			Kind:      ResultNeedsAuth,
			Message:   fmt.Sprintf("%q needs credentials; run store-auth %s KEY=VALUE for each of: see needs_auth", name, name),
			NeedsAuth: missing,
		}, nil
	}

	server := BuildServer(entry, userArgs, stored)

	if err := a.manager.AdmitServer(ctx, server); err != nil {
		return Result{}, fmt.Errorf("admit %s: %w", name, err)
	}

	toolCount := 0
	if client, ok := a.manager.GetClient(name); ok {
		if tools, err := client.ListTools(ctx); err == nil {
			toolCount = len(tools)
		} else {
			logging.Warn("adder", "admitted %s but could not list its tools: %v", name, err)
		}
	}

	return Result{
		Kind:      ResultSuccess,
		Message:   fmt.Sprintf("%q is now active", name),
		ToolCount: toolCount,
	}, nil
}

// BuildServer materializes a configstore.Server from a catalog entry: static
// args with user-supplied values inserted at their declared positions, auth
// values folded into env, and the transport variant chosen from the entry's
// launch spec. Exported for reuse by the store-auth-aware `add` CLI command,
// which persists directly to the config store rather than through a live
// Active Set Manager.
func BuildServer(entry catalog.Entry, userArgs map[string]string, authValues map[string]string) configstore.Server {
	resolved := insertArgs(entry.StaticArgs, entry.ArgumentRequirements, userArgs)
	args := append(append([]string(nil), entry.Launch.Args...), resolved...)

	env := map[string]string{}
	for k, v := range entry.Launch.Env {
		env[k] = v
	}
	for k, v := range authValues {
		env[k] = v
	}

	return configstore.Server{
		Name: entry.Name,
		Transport: configstore.Transport{
			Type:    entry.Launch.Type,
			Command: entry.Launch.Command,
			Args:    args,
			Env:     env,
			URL:     entry.Launch.URL,
			Headers: entry.Launch.Headers,
		},
	}
}

// insertArgs inserts each declared argument's user-supplied value into a
// copy of static at its declared Position, processing requirements in
// ascending position order so earlier insertions don't shift later ones
// past their target.
func insertArgs(static []string, reqs []catalog.ArgumentRequirement, userArgs map[string]string) []string {
	ordered := append([]catalog.ArgumentRequirement(nil), reqs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	out := append([]string(nil), static...)
	for _, req := range ordered {
		value, provided := userArgs[req.Name]
		if !provided {
			continue
		}
		pos := req.Position
		if pos < 0 {
			pos = 0
		}
		if pos > len(out) {
			pos = len(out)
		}
		out = append(out[:pos], append([]string{value}, out[pos:]...)...)
	}
	return out
}
