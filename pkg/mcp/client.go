// Package mcp is the MCP (Model Context Protocol) client layer: transports
// and sessions to the configured tool servers, the tool executor agents
// call through, and the health monitor that keeps degraded servers visible.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/version"
)

// serverConn is one server's connection state. Its mutex serializes
// connect/reconnect for that server only; tool calls copy the session
// pointer out under the lock and run the RPC without it, so parallel
// agents sharing a client never queue behind each other's calls.
type serverConn struct {
	mu      sync.Mutex
	session *mcpsdk.ClientSession
	client  *mcpsdk.Client

	// tools is filled on the first ListTools and kept for the client's
	// lifetime — a Client is scoped to one session run, so staleness isn't
	// a concern; reconnection invalidates it explicitly.
	tools []*mcpsdk.Tool

	// lastErr holds the most recent initialization failure, cleared on a
	// successful connect.
	lastErr string
}

// Client holds the MCP sessions for one scope of work (an alert run, or
// the health monitor). Safe for concurrent use by parallel stage agents.
type Client struct {
	registry *config.MCPServerRegistry

	mu    sync.Mutex // guards the conns map; per-server state is in serverConn
	conns map[string]*serverConn

	logger *slog.Logger
}

// newClient creates a Client with no connections yet.
func newClient(registry *config.MCPServerRegistry) *Client {
	return &Client{
		registry: registry,
		conns:    make(map[string]*serverConn),
		logger:   slog.Default(),
	}
}

// conn returns (creating if needed) the connection slot for a server.
func (c *Client) conn(serverID string) *serverConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.conns[serverID]
	if !ok {
		sc = &serverConn{}
		c.conns[serverID] = sc
	}
	return sc
}

// Initialize connects to each listed server, recording failures instead of
// aborting — the caller decides whether a partially-connected client is
// usable (per-session runs proceed with the servers that came up; a
// readiness probe checks FailedServers and refuses).
func (c *Client) Initialize(ctx context.Context, serverIDs []string) error {
	for _, serverID := range serverIDs {
		sc := c.conn(serverID)
		sc.mu.Lock()
		err := c.connectLocked(ctx, serverID, sc)
		sc.mu.Unlock()
		if err != nil {
			c.logger.Warn("MCP server failed to initialize",
				"server", serverID, "error", err)
		}
	}
	return nil
}

// connectLocked dials one server. The caller holds sc.mu; a server that is
// already connected is a no-op.
func (c *Client) connectLocked(ctx context.Context, serverID string, sc *serverConn) error {
	if sc.session != nil {
		return nil
	}

	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		err = fmt.Errorf("server %q not found in registry: %w", serverID, err)
		sc.lastErr = err.Error()
		return err
	}

	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		err = fmt.Errorf("failed to create transport for %q: %w", serverID, err)
		sc.lastErr = err.Error()
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, MCPInitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// The SDK closes the connection on most failure paths; closing the
		// transport here as well guards the stdio case, where a leak means
		// an orphaned child process.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		err = fmt.Errorf("failed to connect to %q: %w", serverID, err)
		sc.lastErr = err.Error()
		return err
	}

	sc.session = session
	sc.client = client
	sc.lastErr = ""
	c.logger.Info("MCP server connected", "server", serverID)
	return nil
}

// liveSession returns the server's current session without holding its
// lock across the caller's RPC.
func (c *Client) liveSession(serverID string) (*mcpsdk.ClientSession, error) {
	sc := c.conn(serverID)
	sc.mu.Lock()
	session := sc.session
	sc.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}
	return session, nil
}

// ListTools returns one server's tools, serving from the per-server cache
// after the first call.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	sc := c.conn(serverID)
	sc.mu.Lock()
	cached := sc.tools
	session := sc.session
	sc.mu.Unlock()

	if cached != nil {
		return cached, nil
	}
	if session == nil {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	// Cache a non-nil slice even for an empty server, so "cached" and
	// "never listed" stay distinguishable.
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	sc.mu.Lock()
	sc.tools = tools
	sc.mu.Unlock()

	return tools, nil
}

// CallTool executes one tool call. A transport-level failure earns exactly
// one retry after a jittered pause, on a freshly recreated session;
// semantic failures surface immediately.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: toolName, Arguments: args}

	result, err := c.callToolOnce(ctx, serverID, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	c.logger.Info("MCP call failed, retrying",
		"server", serverID, "tool", toolName,
		"action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := c.recreateSession(ctx, serverID); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", serverID, err)
		}
	}

	result, err = c.callToolOnce(ctx, serverID, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", serverID, toolName, err)
	}
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := c.liveSession(serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// recreateSession tears a server's session down and dials again. Two
// goroutines racing here cost one redundant reconnect — the second tears
// down the first's fresh session — which is accepted; a per-server
// generation counter could avoid it if recovery ever becomes hot.
func (c *Client) recreateSession(ctx context.Context, serverID string) error {
	sc := c.conn(serverID)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.session != nil {
		_ = sc.session.Close()
		sc.session = nil
		sc.client = nil
	}
	sc.tools = nil

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return c.connectLocked(reinitCtx, serverID, sc)
}

// Close shuts every session down and forgets all connection state.
func (c *Client) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*serverConn)
	c.mu.Unlock()

	var firstErr error
	for id, sc := range conns {
		sc.mu.Lock()
		if sc.session != nil {
			if err := sc.session.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close session %q: %w", id, err)
			}
			sc.session = nil
			sc.client = nil
		}
		sc.mu.Unlock()
	}
	return firstErr
}

// InvalidateToolCache drops a server's cached tool list, forcing the next
// ListTools to re-probe it.
func (c *Client) InvalidateToolCache(serverID string) {
	sc := c.conn(serverID)
	sc.mu.Lock()
	sc.tools = nil
	sc.mu.Unlock()
}

// HasSession reports whether a server currently has a live session.
func (c *Client) HasSession(serverID string) bool {
	sc := c.conn(serverID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.session != nil
}

// FailedServers maps each server that failed to initialize (and hasn't
// recovered) to its error message.
func (c *Client) FailedServers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	failed := make(map[string]string)
	for id, sc := range c.conns {
		sc.mu.Lock()
		if sc.session == nil && sc.lastErr != "" {
			failed[id] = sc.lastErr
		}
		sc.mu.Unlock()
	}
	return failed
}

// dropSession closes and forgets a server's session without reconnecting.
// Test seam for simulating a server that died under the client.
func (c *Client) dropSession(serverID string) {
	sc := c.conn(serverID)
	sc.mu.Lock()
	if sc.session != nil {
		_ = sc.session.Close()
		sc.session = nil
		sc.client = nil
	}
	sc.mu.Unlock()
}

// adoptSession installs an externally created session, bypassing transport
// setup. Test seam for wiring in-memory MCP servers.
func (c *Client) adoptSession(serverID string, client *mcpsdk.Client, session *mcpsdk.ClientSession) {
	sc := c.conn(serverID)
	sc.mu.Lock()
	sc.session = session
	sc.client = client
	sc.lastErr = ""
	sc.mu.Unlock()
}
