package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// subCmd is one LISTEN/UNLISTEN to be run by the receive loop — the only
// goroutine allowed to touch the pgx connection (concurrent Exec against a
// connection blocked in WaitForNotification is a "conn busy" race).
type subCmd struct {
	sql     string
	channel string
	gen     uint64 // generation captured at Unsubscribe time; 0 marks a LISTEN
	result  chan error
}

// NotifyListener owns the dedicated PostgreSQL LISTEN connection and fans
// incoming NOTIFY payloads out to the WebSocket ConnectionManager and to
// registered in-process handlers (cross-pod coordination).
//
// Subscribe/Unsubscribe race: a client can unsubscribe and immediately
// resubscribe to the same channel, and the two commands may reach the
// receive loop out of their useful order. Each executed LISTEN bumps a
// per-channel generation; an UNLISTEN carries the generation it was created
// under and is dropped as stale if a newer LISTEN ran meanwhile. Without
// this, a rapid unsubscribe/resubscribe could leave the channel silently
// unlistened.
type NotifyListener struct {
	connString string
	manager    *ConnectionManager

	connMu sync.Mutex
	conn   *pgx.Conn

	cmdCh   chan subCmd
	running atomic.Bool

	// stateMu guards the subscription bookkeeping: which channels we
	// LISTEN on (re-established after a reconnect) and each channel's
	// LISTEN generation.
	stateMu  sync.Mutex
	channels map[string]bool
	gens     map[string]uint64

	handlersMu sync.RWMutex
	handlers   map[string]func(payload []byte)

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener; Start establishes the connection.
func NewNotifyListener(connString string, manager *ConnectionManager) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		manager:    manager,
		channels:   make(map[string]bool),
		gens:       make(map[string]uint64),
		cmdCh:      make(chan subCmd, 16),
		handlers:   make(map[string]func(payload []byte)),
	}
}

// Start opens the dedicated LISTEN connection and launches the receive loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("NotifyListener started")
	return nil
}

// Subscribe asks the receive loop to LISTEN on a channel. The LISTEN is
// always sent even if the channel is already marked active — PostgreSQL
// treats duplicates as no-ops, and unconditionally sending closes the race
// where a concurrent Unsubscribe would otherwise drop the channel between
// an early-return check here and its own execution.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}

	sanitized := pgx.Identifier{channel}.Sanitize()
	err := l.submit(ctx, subCmd{
		sql:     "LISTEN " + sanitized,
		channel: channel,
		result:  make(chan error, 1),
	})
	if err != nil {
		return fmt.Errorf("LISTEN %s failed: %w", sanitized, err)
	}

	l.stateMu.Lock()
	l.channels[channel] = true
	l.stateMu.Unlock()
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe asks the receive loop to UNLISTEN a channel. The command
// carries the channel's generation at call time; the receive loop skips it
// if a newer Subscribe has executed since.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	l.stateMu.Lock()
	listening := l.channels[channel]
	gen := l.gens[channel]
	l.stateMu.Unlock()
	if !listening || !l.running.Load() {
		return nil
	}

	sanitized := pgx.Identifier{channel}.Sanitize()
	err := l.submit(ctx, subCmd{
		sql:     "UNLISTEN " + sanitized,
		channel: channel,
		gen:     gen,
		result:  make(chan error, 1),
	})
	if err != nil {
		return fmt.Errorf("UNLISTEN %s failed: %w", sanitized, err)
	}

	// Forget the channel only if no Subscribe raced us; if the generation
	// advanced, a newer LISTEN is active and the channel must survive for
	// reconnect re-LISTENs.
	l.stateMu.Lock()
	if l.gens[channel] == gen {
		delete(l.channels, channel)
	}
	l.stateMu.Unlock()
	return nil
}

// submit queues a command for the receive loop and waits for its verdict.
func (l *NotifyListener) submit(ctx context.Context, cmd subCmd) error {
	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isListening reports whether the listener tracks the channel as active.
// Unexported — tests poll this instead of sleeping.
func (l *NotifyListener) isListening(channel string) bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.channels[channel]
}

// RegisterHandler attaches an in-process callback for one channel's NOTIFY
// payloads, alongside the normal WebSocket broadcast. Used for
// backend-to-backend signals such as cross-pod cancellation.
func (l *NotifyListener) RegisterHandler(channel string, fn func(payload []byte)) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[channel] = fn
}

// receiveLoop is the connection's only user: it alternates between running
// queued LISTEN/UNLISTEN commands and waiting (briefly) for notifications,
// reconnecting whenever the connection drops.
func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.runQueuedCmds(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		// Short wait so queued commands never sit long behind an idle
		// WaitForNotification.
		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // wait window elapsed; check commands again
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.dispatch(notification.Channel, []byte(notification.Payload))
	}
}

// dispatch hands one notification to the channel's in-process handler (if
// any) and broadcasts it to WebSocket subscribers.
func (l *NotifyListener) dispatch(channel string, payload []byte) {
	l.handlersMu.RLock()
	handler := l.handlers[channel]
	l.handlersMu.RUnlock()
	if handler != nil {
		handler(payload)
	}
	l.manager.Broadcast(channel, payload)
}

// runQueuedCmds drains the command channel. A LISTEN that executes bumps
// its channel's generation; an UNLISTEN whose captured generation no longer
// matches is stale — a newer LISTEN ran after it was queued — and becomes a
// successful no-op.
func (l *NotifyListener) runQueuedCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			if cmd.gen > 0 && l.genAdvanced(cmd.channel, cmd.gen) {
				cmd.result <- nil
				continue
			}

			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()
			if conn == nil {
				cmd.result <- fmt.Errorf("LISTEN connection not established")
				continue
			}

			_, err := conn.Exec(ctx, cmd.sql)
			if err == nil && cmd.gen == 0 && cmd.channel != "" {
				l.stateMu.Lock()
				l.gens[cmd.channel]++
				l.stateMu.Unlock()
			}
			cmd.result <- err
		default:
			return
		}
	}
}

func (l *NotifyListener) genAdvanced(channel string, gen uint64) bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.gens[channel] != gen
}

// reconnect dials until it gets a connection back, with capped exponential
// backoff, then re-LISTENs every tracked channel.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn

		l.stateMu.Lock()
		for ch := range l.channels {
			sanitized := pgx.Identifier{ch}.Sanitize()
			if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
				slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.stateMu.Unlock()

		slog.Info("NotifyListener reconnected")
		return
	}
}

// Stop signals the receive loop down, waits for it, then closes the
// connection — in that order, so Close never races WaitForNotification.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
