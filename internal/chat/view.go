package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// State is the lifecycle stage of a view.
type State int

const (
	// StateLoading means the initial fetch is in progress.
	StateLoading State = iota
	// StateLive means the view is loaded and following the realtime stream.
	StateLive
	// StateError means loading failed; Open may be called again.
	StateError
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SignalKind names a notification emitted by a view.
type SignalKind int

const (
	// SignalLoaded is sent once the initial batch is committed.
	SignalLoaded SignalKind = iota
	// SignalNewMessage is sent when a message becomes the newest of a room.
	SignalNewMessage
	// SignalUpdated is sent when an inbox entry changed.
	SignalUpdated
	// SignalDisconnected is sent when the realtime subscription is lost.
	SignalDisconnected
	// SignalReconnected is sent after resubscribing and catching up.
	SignalReconnected
	// SignalError is sent when the view can no longer make progress.
	SignalError
)

func (k SignalKind) String() string {
	switch k {
	case SignalLoaded:
		return "loaded"
	case SignalNewMessage:
		return "new_message"
	case SignalUpdated:
		return "updated"
	case SignalDisconnected:
		return "disconnected"
	case SignalReconnected:
		return "reconnected"
	case SignalError:
		return "error"
	default:
		return "unknown"
	}
}

// Signal is a notification for the presentation layer.
type Signal struct {
	Kind           SignalKind
	ConversationID string
	UserID         string // contact list updates
	Message        *store.Message
	Err            error
}

// view holds the lifecycle shared by Room, Inbox and Contacts: state, signals and the
// live loop goroutine.
type view struct {
	name string
	cfg  *config

	mu      sync.RWMutex
	state   State
	err     error
	opening bool

	signals chan Signal
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func (v *view) setup(name string, cfg *config) {
	v.name = name
	v.cfg = cfg
	v.state = StateLoading
	v.signals = make(chan Signal, cfg.signalBuffer)
	v.ctx, v.cancel = context.WithCancel(context.Background())
}

// State returns the current lifecycle stage.
func (v *view) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Err returns the error that put the view in StateError.
func (v *view) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Signals returns the notification channel. It is closed by Close.
func (v *view) Signals() <-chan Signal { return v.signals }

func (v *view) emit(s Signal) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state == StateClosed {
		return
	}
	select {
	case v.signals <- s:
	default:
		v.cfg.log.Warn().Str("view", v.name).Stringer("signal", s.Kind).Msg("signal dropped, consumer not reading")
	}
}

// beginOpen moves the view to StateLoading and returns a context that ends
// when either ctx or the view ends. Only one open may run at a time; the
// returned cancel func releases it.
func (v *view) beginOpen(ctx context.Context) (context.Context, context.CancelFunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.state == StateClosed:
		return nil, nil, &Error{Code: CodeCanceled, Op: "open", Err: ErrClosed}
	case v.state == StateLive:
		return nil, nil, &Error{Code: CodeInvalidArgument, Op: "open", Err: errors.New("view already open")}
	case v.opening:
		return nil, nil, &Error{Code: CodeInvalidArgument, Op: "open", Err: errors.New("open already in progress")}
	}
	v.state = StateLoading
	v.err = nil
	v.opening = true

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(v.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
		v.mu.Lock()
		v.opening = false
		v.mu.Unlock()
	}, nil
}

// fail records a failed open.
func (v *view) fail(err error) {
	v.mu.Lock()
	if v.state != StateClosed {
		v.state = StateError
		v.err = err
	}
	v.mu.Unlock()
	v.emit(Signal{Kind: SignalError, Err: err})
}

// goLive switches to StateLive, emits loaded and starts loop unless the view
// was closed meanwhile. commit runs under the write lock before the switch.
func (v *view) goLive(commit func(), loaded Signal, loop func()) error {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return &Error{Code: CodeCanceled, Op: "open", Err: ErrClosed}
	}
	commit()
	v.state = StateLive
	v.done = make(chan struct{})
	done := v.done
	v.mu.Unlock()

	v.emit(loaded)
	v.cfg.metrics.ViewOpened(v.name)
	go func() {
		defer close(done)
		defer v.cfg.metrics.ViewClosed(v.name)
		loop()
	}()
	return nil
}

// Close stops the view, waits for its loop and closes Signals. It is idempotent.
func (v *view) Close() error {
	v.cancel()

	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return nil
	}
	v.state = StateClosed
	done := v.done
	v.mu.Unlock()

	if done != nil {
		<-done
	}
	close(v.signals)
	return nil
}

// live reports whether results may still be applied.
func (v *view) live() bool {
	return v.ctx.Err() == nil
}

// follow consumes sub until the view closes, resubscribing through
// reconnect whenever the subscription is lost or apply fails. reconnect must
// re-fetch whatever apply could not fold in.
func follow[T any](v *view, sub realtime.Subscription[T], apply func(T) error, reconnect func(context.Context) (realtime.Subscription[T], error)) {
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
	}()

	for {
		var lost error
		select {
		case <-v.ctx.Done():
			return
		case ev := <-sub.Events():
			if lost = apply(ev); lost == nil {
				continue
			}
		case <-sub.Done():
			// Drain what was buffered before the loss.
			for drained := false; !drained && lost == nil; {
				select {
				case ev := <-sub.Events():
					lost = apply(ev)
				default:
					drained = true
				}
			}
			if lost == nil {
				lost = sub.Err()
			}
			if lost == nil {
				lost = realtime.ErrDisconnected
			}
		}

		_ = sub.Close()
		sub = nil
		if !v.live() {
			return
		}
		v.cfg.log.Info().Err(lost).Str("view", v.name).Msg("subscription lost, recovering")
		v.emit(Signal{Kind: SignalDisconnected, Err: wrap("subscribe", lost)})

		next, err := retry(v.ctx, v.cfg, "recover", v.cfg.retry.unbounded(v.ctx), reconnect)
		if err != nil {
			v.cfg.metrics.Recovery(v.name, false)
			if !v.live() {
				return
			}
			v.cfg.log.Error().Err(err).Str("view", v.name).Msg("recovery failed")
			v.mu.Lock()
			if v.state != StateClosed {
				v.state = StateError
				v.err = err
			}
			v.mu.Unlock()
			v.emit(Signal{Kind: SignalError, Err: err})
			return
		}
		v.cfg.metrics.Recovery(v.name, true)
		sub = next
		v.emit(Signal{Kind: SignalReconnected})
	}
}
