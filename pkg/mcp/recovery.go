package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// RecoveryAction is the verdict ClassifyError hands back for a failed MCP
// operation: give up, retry on the live session, or tear the session down
// and retry on a fresh one.
type RecoveryAction int

const (
	// NoRetry — semantic or unknown failure; retrying would repeat it.
	NoRetry RecoveryAction = iota
	// RetrySameSession — transient, session still good. ClassifyError
	// doesn't return this yet; it's the slot for rate-limit handling once
	// server throttling is detectable.
	RetrySameSession
	// RetryNewSession — the transport died under us; a fresh session has a
	// real chance.
	RetryNewSession
)

// Recovery timing. One retry only: a transport that fails twice in a row
// is a server problem the health monitor owns, not something worth burning
// iteration budget on.
const (
	MaxRetries = 1

	// ReinitTimeout bounds recreating a session mid-recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for CallTool/ListTools.
	// Deliberately generous — some tools are legitimately slow — with the
	// 120s iteration timeout as the hard ceiling above it.
	OperationTimeout = 90 * time.Second

	// RetryBackoffMin/Max bound the jittered pause before the one retry.
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond

	// MCPInitTimeout bounds a server's transport setup + handshake.
	MCPInitTimeout = 30 * time.Second

	// MCPHealthPingTimeout keeps one dead server from stalling the whole
	// health cycle.
	MCPHealthPingTimeout = 5 * time.Second

	// MCPHealthInterval is the health loop cadence.
	MCPHealthInterval = 15 * time.Second
)

// ClassifyError decides whether a failed MCP operation is worth retrying.
// Only transport-level deaths earn a fresh session; context expiry,
// JSON-RPC protocol errors and anything unidentified do not retry —
// repeating a semantic failure just doubles the damage.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			// A slow server is not a broken one.
			return NoRetry
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}
	if isMCPProtocolError(err) {
		return NoRetry
	}

	return NoRetry
}

// isConnectionError detects a dead transport: typed EOF/closed errors from
// the stdlib, or the connection-failure phrases that only surface as text.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// isMCPProtocolError matches the SDK's typed JSON-RPC errors. These mean
// the request itself was wrong — the session is fine and a retry would
// send the same wrong request again.
func isMCPProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError,
		jsonrpc.CodeInvalidRequest,
		jsonrpc.CodeMethodNotFound,
		jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}
