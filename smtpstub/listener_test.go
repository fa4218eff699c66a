package smtpstub

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startListener runs Serve in the background and waits for the bind.
func startListener(t *testing.T, ctx context.Context, cfg Config, sink MessageSink) (*Listener, <-chan error) {
	t.Helper()
	l := NewListener(cfg, sink)
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Serve(ctx)
	}()

	select {
	case <-l.Ready():
	case err := <-errCh:
		t.Fatalf("listener failed before it was ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never became ready")
	}
	return l, errCh
}

func dial(t *testing.T, addr net.Addr) *conversation {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &conversation{
		t:    t,
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

func TestListenerServesOneSession(t *testing.T) {
	sink := &recordingSink{}
	l, errCh := startListener(t, context.Background(), Config{Address: "127.0.0.1:0"}, sink)

	c := dial(t, l.Addr())
	c.expect(ReplyGreeting)
	c.send("HELO client.example.com")
	c.expect(ReplyHello)
	c.send("MAIL FROM: <a@b.com>")
	c.expect(ReplyOK)
	c.send("RCPT TO: <c@d.com>")
	c.expect(ReplyOK)
	c.send("DATA")
	c.expect(ReplyStartMailInput)
	c.write("From: a@b.com\r\nTo: c@d.com\r\nSubject: hi\r\n\r\nbody\r\n.\r\n")
	c.expect(ReplyOK)
	c.send("QUIT")
	c.expect(ReplyBye)
	c.expectEOF()

	require.NoError(t, waitRun(t, errCh))
	require.Len(t, sink.all(), 1)
	assert.Equal(t, "From: a@b.com\r\nTo: c@d.com\r\nSubject: hi\r\n\r\nbody", sink.all()[0].Body())

	// Single-shot: nobody is listening anymore.
	_, err := net.DialTimeout("tcp", l.Addr().String(), time.Second)
	assert.Error(t, err)
}

func TestListenerUnterminatedLastLine(t *testing.T) {
	l, errCh := startListener(t, context.Background(), Config{Address: "127.0.0.1:0"}, nil)

	c := dial(t, l.Addr())
	c.expect(ReplyGreeting)
	c.write("QUIT")
	require.NoError(t, c.conn.(*net.TCPConn).CloseWrite())
	c.expect(ReplyBye)

	require.NoError(t, waitRun(t, errCh))
}

func TestListenerBindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	l := NewListener(Config{Address: taken.Addr().String()}, nil)
	err = l.Serve(context.Background())

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr), "expected a *BindError but got %v", err)
	assert.Equal(t, taken.Addr().String(), bindErr.Addr)
	assert.Nil(t, l.Addr())
}

func TestListenerRebindsRightAway(t *testing.T) {
	l, errCh := startListener(t, context.Background(), Config{Address: "127.0.0.1:0"}, nil)
	addr := l.Addr().String()

	c := dial(t, l.Addr())
	c.expect(ReplyGreeting)
	c.send("QUIT")
	c.expect(ReplyBye)
	require.NoError(t, waitRun(t, errCh))

	// The server closed first, so its side of the old connection sits in
	// TIME_WAIT. SO_REUSEADDR lets us bind anyway.
	l2, errCh2 := startListener(t, context.Background(), Config{Address: addr}, nil)
	c2 := dial(t, l2.Addr())
	c2.expect(ReplyGreeting)
	c2.send("QUIT")
	c2.expect(ReplyBye)
	require.NoError(t, waitRun(t, errCh2))
}

func TestListenerLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{}
	l, errCh := startListener(t, ctx, Config{Address: "127.0.0.1:0", Loop: true}, sink)

	for i := 0; i < 3; i++ {
		c := dial(t, l.Addr())
		c.expect(ReplyGreeting)
		c.send("DATA")
		c.expect(ReplyStartMailInput)
		c.send("message")
		c.send(".")
		c.expect(ReplyOK)
		c.send("QUIT")
		c.expect(ReplyBye)
		c.expectEOF()
	}

	cancel()
	require.NoError(t, waitRun(t, errCh))

	msgs := sink.all()
	require.Len(t, msgs, 3)
	ids := map[string]bool{}
	for _, m := range msgs {
		ids[m.SessionID] = true
	}
	assert.Len(t, ids, 3)
}

func TestListenerLoopConcurrentSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, errCh := startListener(t, ctx, Config{Address: "127.0.0.1:0", Loop: true, MaxSessions: 2}, nil)

	first := dial(t, l.Addr())
	first.expect(ReplyGreeting)
	second := dial(t, l.Addr())
	second.expect(ReplyGreeting)

	second.send("QUIT")
	second.expect(ReplyBye)
	first.send("QUIT")
	first.expect(ReplyBye)

	cancel()
	require.NoError(t, waitRun(t, errCh))
}

func TestListenerCancelBeforeClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, errCh := startListener(t, ctx, Config{Address: "127.0.0.1:0"}, nil)

	cancel()
	require.NoError(t, waitRun(t, errCh))
}

func TestListenerClose(t *testing.T) {
	l, errCh := startListener(t, context.Background(), Config{Address: "127.0.0.1:0", Loop: true}, nil)

	require.NoError(t, l.Close())
	require.NoError(t, waitRun(t, errCh))
}

func TestListenerAcceptErr(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	failure := errors.New("accept failed")

	testCases := []struct {
		description string
		ctx         context.Context
		err         error
		wantAccept  bool
	}{
		{"accept failure", context.Background(), failure, true},
		{"wrapped accept failure", context.Background(), &net.OpError{Op: "accept", Net: "tcp", Err: failure}, true},
		{"listener we closed", context.Background(), net.ErrClosed, false},
		{"cancelled", cancelled, failure, false},
	}

	l := NewListener(Config{}, nil)
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := l.acceptErr(tc.ctx, tc.err)
			if !tc.wantAccept {
				assert.NoError(t, err)
				return
			}
			var acceptErr *AcceptError
			require.True(t, errors.As(err, &acceptErr), "expected an *AcceptError but got %v", err)
			assert.ErrorIs(t, err, failure)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "127.0.0.1:1025", c.Address)
	assert.Equal(t, 100*time.Millisecond, c.GreetingDelay)
	assert.Equal(t, 1, c.MaxSessions)
	assert.False(t, c.Loop)

	// The zero Config is usable too.
	z := Config{}.withDefaults()
	assert.Equal(t, DefaultAddress, z.Address)
	assert.Equal(t, time.Duration(0), z.GreetingDelay)
	assert.Equal(t, DefaultMaxMessageSize, z.MaxMessageSize)
	assert.Equal(t, DefaultMaxLineLength, z.MaxLineLength)
	assert.Equal(t, DefaultMaxLineLength, c.MaxLineLength)
}
