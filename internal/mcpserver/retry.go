package mcpserver

import (
	"context"
	"strings"
	"time"

	"mcpmux/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultCallTimeout bounds every downstream RPC issued through a RetryingClient.
const DefaultCallTimeout = 30 * time.Second

// connectRetryAttempts is the number of handshake attempts on initial connect.
const connectRetryAttempts = 3

// connectRetryGap is the fixed delay between connect attempts.
const connectRetryGap = 2500 * time.Millisecond

// callRetryLimit is the number of reconnect-and-retry attempts on a
// "connection closed" style failure mid-call.
const callRetryLimit = 2

// callRetryBackoff returns the linear backoff delay for the given attempt
// (1-indexed): 1s, 2s.
func callRetryBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}

// RetryingClient wraps an MCPClient with the connect and per-call retry
// policy: the initial handshake is attempted up to connectRetryAttempts times
// with a fixed gap, and a mid-call "connection closed" failure triggers a
// bounded reconnect-and-retry loop with linear backoff.
type RetryingClient struct {
	inner MCPClient
}

// NewRetryingClient wraps inner with the shared retry policy.
func NewRetryingClient(inner MCPClient) *RetryingClient {
	return &RetryingClient{inner: inner}
}

// Initialize performs the handshake, retrying up to connectRetryAttempts
// times with a fixed gap between attempts.
func (r *RetryingClient) Initialize(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= connectRetryAttempts; attempt++ {
		lastErr = r.inner.Initialize(ctx)
		if lastErr == nil {
			return nil
		}

		logging.Warn("RetryingClient", "handshake attempt %d/%d failed: %v", attempt, connectRetryAttempts, lastErr)

		if attempt == connectRetryAttempts {
			break
		}

		select {
		case <-time.After(connectRetryGap):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (r *RetryingClient) Close() error {
	return r.inner.Close()
}

// isConnectionClosed reports whether err looks like the transport-closed /
// JSON-RPC -32000-family failure that warrants a reconnect-and-retry.
func isConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "transport-closed") ||
		strings.Contains(msg, "transport closed") ||
		strings.Contains(msg, "-32000") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof")
}

// withCallRetry runs op, and on a connection-closed style error reconnects
// the underlying client and retries, up to callRetryLimit times with linear
// backoff. Every other failure surfaces immediately.
func (r *RetryingClient) withCallRetry(ctx context.Context, op func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	err := op(callCtx)
	if err == nil || !isConnectionClosed(err) {
		return err
	}

	for attempt := 1; attempt <= callRetryLimit; attempt++ {
		logging.Warn("RetryingClient", "call failed with connection closed, retry %d/%d", attempt, callRetryLimit)

		select {
		case <-time.After(callRetryBackoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}

		_ = r.inner.Close()
		if reErr := r.inner.Initialize(ctx); reErr != nil {
			err = reErr
			continue
		}

		retryCtx, retryCancel := context.WithTimeout(ctx, DefaultCallTimeout)
		err = op(retryCtx)
		retryCancel()
		if err == nil || !isConnectionClosed(err) {
			return err
		}
	}

	return err
}

func (r *RetryingClient) ListTools(ctx context.Context) (tools []mcp.Tool, err error) {
	err = r.withCallRetry(ctx, func(ctx context.Context) error {
		var opErr error
		tools, opErr = r.inner.ListTools(ctx)
		return opErr
	})
	return tools, err
}

func (r *RetryingClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (result *mcp.CallToolResult, err error) {
	err = r.withCallRetry(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = r.inner.CallTool(ctx, name, args)
		return opErr
	})
	return result, err
}

func (r *RetryingClient) ListResources(ctx context.Context) (resources []mcp.Resource, err error) {
	err = r.withCallRetry(ctx, func(ctx context.Context) error {
		var opErr error
		resources, opErr = r.inner.ListResources(ctx)
		return opErr
	})
	return resources, err
}

func (r *RetryingClient) ReadResource(ctx context.Context, uri string) (result *mcp.ReadResourceResult, err error) {
	err = r.withCallRetry(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = r.inner.ReadResource(ctx, uri)
		return opErr
	})
	return result, err
}

func (r *RetryingClient) ListPrompts(ctx context.Context) (prompts []mcp.Prompt, err error) {
	err = r.withCallRetry(ctx, func(ctx context.Context) error {
		var opErr error
		prompts, opErr = r.inner.ListPrompts(ctx)
		return opErr
	})
	return prompts, err
}

func (r *RetryingClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (result *mcp.GetPromptResult, err error) {
	err = r.withCallRetry(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = r.inner.GetPrompt(ctx, name, args)
		return opErr
	})
	return result, err
}

func (r *RetryingClient) Ping(ctx context.Context) error {
	return r.withCallRetry(ctx, r.inner.Ping)
}

var _ MCPClient = (*RetryingClient)(nil)
