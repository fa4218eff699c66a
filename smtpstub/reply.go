package smtpstub

// Canned replies. Clients under test assert against these literals, so they
// must not change.
const (
	ReplyGreeting       = "220 localhost SMTP server ready"
	ReplyHello          = "250 Hello client"
	ReplyOK             = "250 OK"
	ReplyStartMailInput = "354 Start mail input"
	ReplyBye            = "221 Bye"
	ReplyUnknown        = "500 Unknown command"
	ReplyNotImplemented = "502 Command not implemented"
)

const crlf = "\r\n"
