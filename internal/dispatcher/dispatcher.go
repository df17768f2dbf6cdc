// Package dispatcher implements the Dispatcher: fanning tools/list,
// prompts/list and resources/list out across every active backend, routing
// tools/call, prompts/get and resources/read by name, and hosting the two
// built-in tools add_new_mcp and search_mcps.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mark3labs/mcp-go/mcp"
	sdkserver "github.com/mark3labs/mcp-go/server"

	"mcpmux/internal/activeset"
	"mcpmux/internal/adder"
	"mcpmux/internal/catalog"
	"mcpmux/internal/mcpserver"
	"mcpmux/pkg/logging"
)

// FanoutTimeout bounds how long a single backend's list call may take
// during a tools/list, prompts/list, or resources/list refresh; a slower
// backend is omitted from that round rather than stalling the whole list.
const FanoutTimeout = 10 * time.Second

// AddNewMCPTool and SearchMCPsTool are the names of the two built-in tools
// that are always present regardless of the active set.
const (
	AddNewMCPTool  = "add_new_mcp"
	SearchMCPsTool = "search_mcps"
)

// Dispatcher owns the upstream-facing MCP server instance, keeping its
// registered tools/prompts/resources synchronized with the active set and
// routing calls to the right backend.
type Dispatcher struct {
	manager     *activeset.Manager
	registry    *catalog.Registry
	adder       *adder.Adder
	server      *sdkserver.MCPServer
	embeddings  catalog.EmbeddingsProvider

	mu             sync.RWMutex
	toolRoutes     map[string]string
	promptRoutes   map[string]string
	resourceRoutes map[string]string
	registeredTool map[string]bool
	registeredPrompt map[string]bool
	registeredResource map[string]bool
}

// New creates a Dispatcher and registers its two built-in tools. The
// returned *sdkserver.MCPServer is what the Upstream Server hosts over
// HTTP.
func New(manager *activeset.Manager, registry *catalog.Registry, add *adder.Adder) *Dispatcher {
	srv := sdkserver.NewMCPServer(
		"mcpmux",
		"1.0.0",
		sdkserver.WithToolCapabilities(true),
		sdkserver.WithResourceCapabilities(true, true),
		sdkserver.WithPromptCapabilities(true),
	)

	d := &Dispatcher{
		manager:            manager,
		registry:           registry,
		adder:              add,
		server:             srv,
		toolRoutes:         map[string]string{},
		promptRoutes:       map[string]string{},
		resourceRoutes:     map[string]string{},
		registeredTool:     map[string]bool{},
		registeredPrompt:   map[string]bool{},
		registeredResource: map[string]bool{},
	}
	d.registerBuiltins()
	return d
}

// Server returns the underlying MCP server for the Upstream Server to host.
func (d *Dispatcher) Server() *sdkserver.MCPServer {
	return d.server
}

// SetEmbeddings wires an embeddings provider for search_mcps. Passing nil
// (e.g. no OPENAI_API_KEY configured) forces keyword-fallback search.
func (d *Dispatcher) SetEmbeddings(provider catalog.EmbeddingsProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.embeddings = provider
}

// registerBuiltins adds add_new_mcp and search_mcps, which are always
// present independent of the active set.
func (d *Dispatcher) registerBuiltins() {
	d.server.AddTool(mcp.NewTool(AddNewMCPTool,
		mcp.WithDescription("Activate a known backend MCP server by name, supplying any arguments it requires."),
		mcp.WithString("name", mcp.Required(), mcp.Description("The catalog name of the server to add")),
	), d.handleAddNewMCP)

	d.server.AddTool(mcp.NewTool(SearchMCPsTool,
		mcp.WithDescription("Search the catalog of known MCP servers by natural-language query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What you're trying to do")),
		mcp.WithNumber("limit", mcp.Description("Max results, 1-10, default 4")),
	), d.handleSearchMCPs)
}

// RefreshCapabilities fans tools/list, prompts/list, and resources/list out
// across every active backend in parallel, rebuilds the route maps
// (unprefixed; first backend encountered wins a name collision), and
// reconciles the server's registered set against the previous round.
func (d *Dispatcher) RefreshCapabilities(ctx context.Context) {
	active := d.manager.Active()

	tools, toolRoutes := d.fanoutTools(ctx, active)
	prompts, promptRoutes := d.fanoutPrompts(ctx, active)
	resources, resourceRoutes := d.fanoutResources(ctx, active)

	d.mu.Lock()
	d.toolRoutes = toolRoutes
	d.promptRoutes = promptRoutes
	d.resourceRoutes = resourceRoutes
	d.mu.Unlock()

	d.reconcileTools(tools)
	d.reconcilePrompts(prompts)
	d.reconcileResources(resources)

	logging.Info("dispatcher", "refreshed capabilities: %d tools, %d prompts, %d resources across %d active backends",
		len(tools), len(prompts), len(resources), len(active))
}

type namedTool struct {
	tool mcp.Tool
	from string
}

// fanoutTools calls tools/list on every active backend in parallel,
// prefixing each tool's description with "[<backend>]". A backend that
// races an eviction (transport closed) is excluded from the round without
// failing it.
func (d *Dispatcher) fanoutTools(ctx context.Context, active []activeset.Entry) ([]namedTool, map[string]string) {
	type result struct {
		from  string
		tools []mcp.Tool
		err   error
	}
	results := make([]result, len(active))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range active {
		i, entry := i, entry
		g.Go(func() error {
			client, ok := d.manager.GetClient(entry.Name)
			if !ok {
				results[i] = result{from: entry.Name, err: fmt.Errorf("transport-closed")}
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, FanoutTimeout)
			defer cancel()
			tools, err := client.ListTools(callCtx)
			results[i] = result{from: entry.Name, tools: tools, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var out []namedTool
	routes := map[string]string{}
	for _, r := range results {
		if r.err != nil {
			logging.Warn("dispatcher", "tools/list on %s excluded from fan-out: %v", r.from, r.err)
			continue
		}
		for _, t := range r.tools {
			t.Description = fmt.Sprintf("[%s] %s", r.from, t.Description)
			out = append(out, namedTool{tool: t, from: r.from})
			if _, exists := routes[t.Name]; !exists {
				routes[t.Name] = r.from
			}
		}
	}
	return out, routes
}

type namedPrompt struct {
	prompt mcp.Prompt
	from   string
}

func (d *Dispatcher) fanoutPrompts(ctx context.Context, active []activeset.Entry) ([]namedPrompt, map[string]string) {
	type result struct {
		from    string
		prompts []mcp.Prompt
		err     error
	}
	results := make([]result, len(active))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range active {
		i, entry := i, entry
		g.Go(func() error {
			client, ok := d.manager.GetClient(entry.Name)
			if !ok {
				results[i] = result{from: entry.Name, err: fmt.Errorf("transport-closed")}
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, FanoutTimeout)
			defer cancel()
			prompts, err := client.ListPrompts(callCtx)
			if err != nil && mcpserver.IsMethodNotFound(err) {
				results[i] = result{from: entry.Name}
				return nil
			}
			results[i] = result{from: entry.Name, prompts: prompts, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var out []namedPrompt
	routes := map[string]string{}
	for _, r := range results {
		if r.err != nil {
			logging.Warn("dispatcher", "prompts/list on %s excluded from fan-out: %v", r.from, r.err)
			continue
		}
		for _, p := range r.prompts {
			out = append(out, namedPrompt{prompt: p, from: r.from})
			if _, exists := routes[p.Name]; !exists {
				routes[p.Name] = r.from
			}
		}
	}
	return out, routes
}

type namedResource struct {
	resource mcp.Resource
	from     string
}

func (d *Dispatcher) fanoutResources(ctx context.Context, active []activeset.Entry) ([]namedResource, map[string]string) {
	type result struct {
		from      string
		resources []mcp.Resource
		err       error
	}
	results := make([]result, len(active))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range active {
		i, entry := i, entry
		g.Go(func() error {
			client, ok := d.manager.GetClient(entry.Name)
			if !ok {
				results[i] = result{from: entry.Name, err: fmt.Errorf("transport-closed")}
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, FanoutTimeout)
			defer cancel()
			resources, err := client.ListResources(callCtx)
			if err != nil && mcpserver.IsMethodNotFound(err) {
				results[i] = result{from: entry.Name}
				return nil
			}
			results[i] = result{from: entry.Name, resources: resources, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var out []namedResource
	routes := map[string]string{}
	for _, r := range results {
		if r.err != nil {
			logging.Warn("dispatcher", "resources/list on %s excluded from fan-out: %v", r.from, r.err)
			continue
		}
		for _, res := range r.resources {
			out = append(out, namedResource{resource: res, from: r.from})
			if _, exists := routes[res.URI]; !exists {
				routes[res.URI] = r.from
			}
		}
	}
	return out, routes
}

func (d *Dispatcher) reconcileTools(tools []namedTool) {
	d.mu.Lock()
	current := make(map[string]bool, len(tools))
	var toAdd []sdkserver.ServerTool
	for _, nt := range tools {
		current[nt.tool.Name] = true
		if !d.registeredTool[nt.tool.Name] {
			toAdd = append(toAdd, sdkserver.ServerTool{Tool: nt.tool, Handler: d.handleProxiedTool})
		}
	}
	var toRemove []string
	for name := range d.registeredTool {
		if !current[name] {
			toRemove = append(toRemove, name)
		}
	}
	d.registeredTool = current
	d.mu.Unlock()

	if len(toRemove) > 0 {
		d.server.DeleteTools(toRemove...)
	}
	if len(toAdd) > 0 {
		d.server.AddTools(toAdd...)
	}
}

func (d *Dispatcher) reconcilePrompts(prompts []namedPrompt) {
	d.mu.Lock()
	current := make(map[string]bool, len(prompts))
	var toAdd []sdkserver.ServerPrompt
	for _, np := range prompts {
		current[np.prompt.Name] = true
		if !d.registeredPrompt[np.prompt.Name] {
			toAdd = append(toAdd, sdkserver.ServerPrompt{Prompt: np.prompt, Handler: d.handleProxiedPrompt})
		}
	}
	var toRemove []string
	for name := range d.registeredPrompt {
		if !current[name] {
			toRemove = append(toRemove, name)
		}
	}
	d.registeredPrompt = current
	d.mu.Unlock()

	if len(toRemove) > 0 {
		d.server.DeletePrompts(toRemove...)
	}
	if len(toAdd) > 0 {
		d.server.AddPrompts(toAdd...)
	}
}

func (d *Dispatcher) reconcileResources(resources []namedResource) {
	d.mu.Lock()
	current := make(map[string]bool, len(resources))
	var toAdd []sdkserver.ServerResource
	for _, nr := range resources {
		current[nr.resource.URI] = true
		if !d.registeredResource[nr.resource.URI] {
			toAdd = append(toAdd, sdkserver.ServerResource{Resource: nr.resource, Handler: d.handleProxiedResource})
		}
	}
	var toRemove []string
	for uri := range d.registeredResource {
		if !current[uri] {
			toRemove = append(toRemove, uri)
		}
	}
	d.registeredResource = current
	d.mu.Unlock()

	for _, uri := range toRemove {
		d.server.RemoveResource(uri)
	}
	if len(toAdd) > 0 {
		d.server.AddResources(toAdd...)
	}
}

// handleProxiedTool forwards tools/call to the routed backend, touching it
// on use, and recovering a stale or missing route by admitting the backend
// the catalog says owns this tool.
func (d *Dispatcher) handleProxiedTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.Params.Name

	backend, err := d.resolveToolBackend(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := d.manager.Touch(ctx, backend); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to bring %s online: %v", backend, err)), nil
	}

	client, ok := d.manager.GetClient(backend)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("backend %s is not available", backend)), nil
	}

	args := map[string]interface{}{}
	if m, ok := req.Params.Arguments.(map[string]interface{}); ok {
		args = m
	}

	result, err := client.CallTool(ctx, name, args)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool call failed: %v", err)), nil
	}
	return result, nil
}

// resolveToolBackend looks up name in the current route map, falling back
// to a catalog scan (matching cached tool metadata) and a recover-on-miss
// admit when the route is absent or stale.
func (d *Dispatcher) resolveToolBackend(ctx context.Context, name string) (string, error) {
	d.mu.RLock()
	backend, routed := d.toolRoutes[name]
	d.mu.RUnlock()

	if routed && d.manager.IsActive(backend) {
		return backend, nil
	}

	entries, err := d.registry.All()
	if err != nil {
		return "", fmt.Errorf("unknown-tool: %s (catalog unavailable: %v)", name, err)
	}
	for _, entry := range entries {
		for _, tm := range entry.ToolsMeta {
			if tm.Name == name {
				if err := d.manager.Admit(ctx, entry.Name); err != nil {
					return "", fmt.Errorf("unknown-tool: %s (recovery admit of %s failed: %w)", name, entry.Name, err)
				}
				return entry.Name, nil
			}
		}
	}
	return "", fmt.Errorf("unknown-tool: %s", name)
}

func (d *Dispatcher) handleProxiedPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	d.mu.RLock()
	backend, ok := d.promptRoutes[req.Params.Name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown-prompt: %s", req.Params.Name)
	}

	if err := d.manager.Touch(ctx, backend); err != nil {
		return nil, fmt.Errorf("failed to bring %s online: %w", backend, err)
	}
	client, ok := d.manager.GetClient(backend)
	if !ok {
		return nil, fmt.Errorf("backend %s is not available", backend)
	}

	args := map[string]interface{}{}
	for k, v := range req.Params.Arguments {
		args[k] = v
	}
	return client.GetPrompt(ctx, req.Params.Name, args)
}

func (d *Dispatcher) handleProxiedResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	d.mu.RLock()
	backend, ok := d.resourceRoutes[req.Params.URI]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown-resource: %s", req.Params.URI)
	}

	if err := d.manager.Touch(ctx, backend); err != nil {
		return nil, fmt.Errorf("failed to bring %s online: %w", backend, err)
	}
	client, ok := d.manager.GetClient(backend)
	if !ok {
		return nil, fmt.Errorf("backend %s is not available", backend)
	}

	result, err := client.ReadResource(ctx, req.Params.URI)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.Contents, nil
}

// handleAddNewMCP is the add_new_mcp built-in: delegates to the Adder and,
// on success, forces a capability refresh so the new tools are immediately
// visible.
func (d *Dispatcher) handleAddNewMCP(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := map[string]interface{}{}
	if m, ok := req.Params.Arguments.(map[string]interface{}); ok {
		args = m
	}

	name, _ := args["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	userArgs := map[string]string{}
	for k, v := range args {
		if k == "name" {
			continue
		}
		if s, ok := v.(string); ok {
			userArgs[k] = s
		}
	}

	result, err := d.adder.Add(ctx, name, userArgs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if result.Kind == adder.ResultSuccess {
		d.RefreshCapabilities(ctx)

		var newTools []string
		d.mu.RLock()
		for toolName, backend := range d.toolRoutes {
			if backend == name {
				newTools = append(newTools, toolName)
			}
		}
		d.mu.RUnlock()
		sort.Strings(newTools)

		return mcp.NewToolResultText(fmt.Sprintf("%s; newly available tools: %s",
			result.Message, strings.Join(newTools, ", "))), nil
	}

	return mcp.NewToolResultText(result.Message), nil
}

// handleSearchMCPs is the search_mcps built-in: delegates to the Registry's
// cosine-similarity/keyword search.
func (d *Dispatcher) handleSearchMCPs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := map[string]interface{}{}
	if m, ok := req.Params.Arguments.(map[string]interface{}); ok {
		args = m
	}

	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	limit := catalog.DefaultSearchLimit
	if raw, ok := args["limit"].(float64); ok {
		limit = int(raw)
	}

	d.mu.RLock()
	provider := d.embeddings
	d.mu.RUnlock()

	results, err := d.registry.Search(ctx, query, limit, provider)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("no matching MCP servers found"), nil
	}

	content := make([]mcp.Content, 0, len(results))
	for _, r := range results {
		content = append(content, mcp.TextContent{Type: "text", Text: r.Summary})
	}
	return &mcp.CallToolResult{Content: content}, nil
}
