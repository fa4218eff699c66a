package smtpstub

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"
)

// Listener binds the configured address and runs a Session for each client
// it accepts. A Listener serves once; create a new one to serve again.
type Listener struct {
	cfg  Config
	sink MessageSink

	mu        sync.Mutex
	ln        net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

// NewListener returns a Listener for cfg. sink receives captured DATA and may
// be nil.
func NewListener(cfg Config, sink MessageSink) *Listener {
	return &Listener{
		cfg:   cfg.withDefaults(),
		sink:  sink,
		ready: make(chan struct{}),
	}
}

// Ready is closed once the address is bound and Addr is usable.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, or nil before Ready.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close stops accepting. Sessions already running are not interrupted; cancel
// the context passed to Serve for that.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

// Serve binds, then blocks until the single session ends or, in Loop mode,
// until ctx is done or the Listener is closed. In single-shot mode it returns
// the session's error. Failing to bind yields a *BindError and failing to
// accept an *AcceptError; neither is retried.
func (l *Listener) Serve(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Address)
	if err != nil {
		return &BindError{Addr: l.cfg.Address, Err: err}
	}
	defer ln.Close()

	if l.cfg.Loop {
		ln = netutil.LimitListener(ln, l.cfg.MaxSessions)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.readyOnce.Do(func() { close(l.ready) })

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	log.Info().
		Str("address", ln.Addr().String()).
		Bool("loop", l.cfg.Loop).
		Msg("SMTP stub ready")

	if !l.cfg.Loop {
		conn, err := ln.Accept()
		if err != nil {
			return l.acceptErr(ctx, err)
		}
		// One session only, so stop listening before it starts.
		ln.Close()
		return l.handle(ctx, conn)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return l.acceptErr(ctx, err)
		}
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			if err := l.handle(ctx, c); err != nil {
				log.Error().Err(err).Msg("session failed")
			}
		}(conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) error {
	s := NewSession(conn, l.cfg, l.sink)
	s.log.Info().
		Str("remote", conn.RemoteAddr().String()).
		Msg("accepted a connection")

	err := s.Run(ctx)
	s.log.Info().Msg("SMTP session ended")
	return err
}

// acceptErr treats a listener we closed ourselves as a clean stop.
func (l *Listener) acceptErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
		log.Info().Msg("SMTP stub stopped")
		return nil
	}
	return &AcceptError{Err: err}
}
