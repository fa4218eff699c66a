package smtpstub

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Phase is where a Session is in the dialogue.
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseCommand
	PhaseData
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "GREETING"
	case PhaseCommand:
		return "COMMAND_LOOP"
	case PhaseData:
		return "DATA_CAPTURE"
	default:
		return "CLOSED"
	}
}

// Session drives the dialogue for one connection. It owns the connection and
// closes it when Run returns. Create one with NewSession.
type Session struct {
	ID string

	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	cfg   Config
	sink  MessageSink
	phase Phase
	log   zerolog.Logger

	// DATA capture for the message in progress
	lines     []string
	size      int64
	truncated bool
}

// NewSession wraps conn. sink may be nil, in which case DATA lines are only
// logged.
func NewSession(conn net.Conn, cfg Config, sink MessageSink) *Session {
	id := uuid.NewString()
	return &Session{
		ID:    id,
		conn:  conn,
		r:     bufio.NewReader(conn),
		w:     bufio.NewWriter(conn),
		cfg:   cfg.withDefaults(),
		sink:  sink,
		phase: PhaseGreeting,
		log:   log.With().Str("session", id).Logger(),
	}
}

// Phase reports the current phase. Only meaningful from the goroutine
// running the session or after Run returns.
func (s *Session) Phase() Phase {
	return s.phase
}

// Run greets the client and answers commands until QUIT, end of stream, a
// failed read or write, or ctx is done. Client EOF and QUIT both return nil,
// as does cancellation. Read and write failures come back as *IOError.
func (s *Session) Run(ctx context.Context) error {
	defer s.close()

	// Closing the connection is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	if s.cfg.GreetingDelay > 0 {
		t := time.NewTimer(s.cfg.GreetingDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}

	if err := s.reply(ReplyGreeting); err != nil {
		return s.ioErr(ctx, err)
	}
	s.phase = PhaseCommand

	for {
		line, rerr := s.readLine()
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			// Whatever arrived before the failure is not a whole line, so
			// it gets no reply.
			return s.ioErr(ctx, &IOError{Op: "read", Err: rerr})
		}

		// A final line without a terminator still counts.
		if line != "" {
			done, err := s.handle(line)
			if err != nil {
				return s.ioErr(ctx, err)
			}
			if done {
				return nil
			}
		}

		if rerr != nil {
			s.log.Info().
				Str("phase", s.phase.String()).
				Msg("client closed the connection")
			return nil
		}
	}
}

// handle answers one line. done means the session is over.
func (s *Session) handle(line string) (done bool, err error) {
	cmd := Classify(line)

	if s.phase == PhaseData {
		if !cmd.IsTerminator() {
			s.capture(line)
			return false, nil
		}
		s.deliver()
		s.phase = PhaseCommand
		return false, s.reply(ReplyOK)
	}

	s.log.Info().
		Str("command", cmd.Trimmed).
		Str("kind", cmd.Kind.String()).
		Msg("received command")

	if err := s.reply(cmd.reply()); err != nil {
		return false, err
	}

	switch cmd.Kind {
	case KindData:
		s.phase = PhaseData
		s.lines = nil
		s.size = 0
		s.truncated = false
	case KindQuit:
		return true, nil
	}
	return false, nil
}

// capture records a DATA line for the sink, undoing dot-stuffing.
func (s *Session) capture(line string) {
	l := strings.TrimRight(line, crlf)
	s.log.Debug().Str("line", l).Msg("received data")

	if s.sink == nil || s.truncated {
		return
	}

	l = strings.TrimPrefix(l, ".")
	if s.size+int64(len(l)) > s.cfg.MaxMessageSize {
		s.truncated = true
		s.log.Warn().
			Int64("maxMessageSize", s.cfg.MaxMessageSize).
			Msg("message is too large to capture, dropping the rest")
		return
	}
	s.size += int64(len(l))
	s.lines = append(s.lines, l)
}

func (s *Session) deliver() {
	if s.sink == nil {
		return
	}
	m := Message{
		SessionID: s.ID,
		Received:  time.Now(),
		Lines:     s.lines,
		Truncated: s.truncated,
	}
	if m.Lines == nil {
		m.Lines = []string{}
	}
	if err := s.sink.Deliver(m); err != nil {
		s.log.Warn().Err(err).Msg("could not hand the message to the sink")
	}
	s.lines = nil
}

// reply writes one status line and flushes it right away so the client
// sees it before sending anything else.
func (s *Session) reply(text string) error {
	if _, err := s.w.WriteString(text + crlf); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	if err := s.w.Flush(); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	s.log.Debug().Str("reply", text).Msg("sent reply")
	return nil
}

// readLine returns the next line, line ending included. It splits on LF, so
// a bare LF ends a line just like CRLF does. Lines longer than
// MaxLineLength fail with ErrLineTooLong. An unterminated line is only
// measured once the read buffer fills, so we may hold up to one buffer more
// than the limit.
func (s *Session) readLine() (string, error) {
	if s.cfg.ReadTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return "", err
		}
	}

	var b []byte
	for {
		frag, err := s.r.ReadSlice('\n')
		if len(b)+len(frag) > s.cfg.MaxLineLength {
			return "", ErrLineTooLong
		}
		b = append(b, frag...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return string(b), err
		}
	}
}

// ioErr swallows errors caused by our own shutdown.
func (s *Session) ioErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		s.log.Info().Msg("session cancelled")
		return nil
	}
	return err
}

func (s *Session) close() {
	s.phase = PhaseClosed
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug().Err(err).Msg("error closing the connection")
	}
}
