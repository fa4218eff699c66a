package smtpstub

import "strings"

// Kind classifies a command line.
type Kind int

const (
	KindUnknown Kind = iota
	KindHello
	KindMailFrom
	KindRcptTo
	KindData
	KindStartTLS
	KindQuit
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindMailFrom:
		return "MAIL FROM"
	case KindRcptTo:
		return "RCPT TO"
	case KindData:
		return "DATA"
	case KindStartTLS:
		return "STARTTLS"
	case KindQuit:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// prefixes are checked in order and the first match wins. Matching is
// case-sensitive.
var prefixes = []struct {
	prefix string
	kind   Kind
}{
	{"EHLO", KindHello},
	{"HELO", KindHello},
	{"MAIL FROM", KindMailFrom},
	{"RCPT TO", KindRcptTo},
	{"DATA", KindData},
	{"STARTTLS", KindStartTLS},
	{"QUIT", KindQuit},
}

// Command is one line read from the client. It is built, answered, and
// thrown away.
type Command struct {
	Raw     string
	Trimmed string
	Kind    Kind
}

// Classify builds a Command from a raw line, line ending included or not.
func Classify(raw string) Command {
	t := strings.TrimSpace(raw)
	c := Command{
		Raw:     raw,
		Trimmed: t,
		Kind:    KindUnknown,
	}
	for _, p := range prefixes {
		if strings.HasPrefix(t, p.prefix) {
			c.Kind = p.kind
			break
		}
	}
	return c
}

// IsTerminator reports whether the line ends the DATA phase.
func (c Command) IsTerminator() bool {
	return c.Trimmed == "."
}

// reply returns the canned reply for a command outside the DATA phase.
func (c Command) reply() string {
	switch c.Kind {
	case KindHello:
		return ReplyHello
	case KindMailFrom, KindRcptTo:
		return ReplyOK
	case KindData:
		return ReplyStartMailInput
	case KindStartTLS:
		return ReplyNotImplemented
	case KindQuit:
		return ReplyBye
	default:
		return ReplyUnknown
	}
}
