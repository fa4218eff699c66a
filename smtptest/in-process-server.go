package smtptest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ptgott/smtpstub/smtpstub"
	"github.com/rs/zerolog/log"
)

// readyTimeout is how long Address waits for the listener to bind.
const readyTimeout = 5 * time.Second

// InMemoryEmailStore retains message bodies in memory for comparison against
// a test's expected output. Implements smtpstub.MessageSink.
// Designed to be goroutine safe since we don't know how many sessions will
// be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []smtpstub.Message
}

// NewInMemoryEmailStore returns an empty store.
func NewInMemoryEmailStore() *InMemoryEmailStore {
	return &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []smtpstub.Message{},
	}
}

// Deliver implements smtpstub.MessageSink. Stores the message in memory for
// retrieval at the end of the test.
func (es *InMemoryEmailStore) Deliver(m smtpstub.Message) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.messages = append(es.messages, m)
	return nil
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// received at or after epoch nanoseconds t.
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.Received.UnixNano() >= t {
			r = append(r, m.Body())
		}
	}
	return r, nil
}

// Messages returns a copy of everything captured so far.
func (es *InMemoryEmailStore) Messages() []smtpstub.Message {
	es.mu.Lock()
	defer es.mu.Unlock()

	return append([]smtpstub.Message(nil), es.messages...)
}

// InProcessServer is an SMTP stub that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer.
type InProcessServer struct {
	*smtpstub.Listener
	*InMemoryEmailStore

	ctx    context.Context
	cancel context.CancelFunc
	// closed when Start returns, so Address doesn't wait on a listener
	// that failed to bind
	done chan struct{}
}

// NewInProcessServer creates an InProcessServer listening on an ephemeral
// loopback port in looping mode, with no greeting delay so tests run fast.
func NewInProcessServer() *InProcessServer {
	cfg := smtpstub.DefaultConfig()
	cfg.Address = "127.0.0.1:0" // arbitrary
	cfg.GreetingDelay = 0
	cfg.Loop = true
	return NewInProcessServerWithConfig(cfg)
}

// NewInProcessServerWithConfig is NewInProcessServer with the stub's
// settings spelled out.
func NewInProcessServerWithConfig(cfg smtpstub.Config) *InProcessServer {
	is := NewInMemoryEmailStore()
	ctx, cancel := context.WithCancel(context.Background())

	return &InProcessServer{
		Listener:           smtpstub.NewListener(cfg, is),
		InMemoryEmailStore: is,
		ctx:                ctx,
		cancel:             cancel,
		done:               make(chan struct{}),
	}
}

// Start starts the test server. Blocking.
func (is *InProcessServer) Start() error {
	defer close(is.done)
	return is.Listener.Serve(is.ctx)
}

// Close shuts down the test server, including any sessions still running.
// You must initialize a new InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.cancel()
	if err := is.Listener.Close(); err != nil {
		log.Debug().Err(err).Msg("error closing the in-process SMTP server")
	}
}

// Address returns the host:port of the test SMTP server. It waits for the
// server to bind, so it's fine to call right after `go Start()`. Returns ""
// if the server stopped or never came up.
func (is *InProcessServer) Address() string {
	a, err := is.WaitReady(readyTimeout)
	if err != nil {
		log.Error().Err(err).Msg("the in-process SMTP server has no address")
		return ""
	}
	return a
}

// WaitReady blocks until the server is bound, it stops, or d passes.
func (is *InProcessServer) WaitReady(d time.Duration) (string, error) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-is.Listener.Ready():
		return is.Listener.Addr().String(), nil
	case <-is.done:
		return "", errors.New("the server stopped before it was ready")
	case <-t.C:
		return "", errors.New("timed out waiting for the server to bind")
	}
}
