package email

// email is the client side of the picture: it connects to an SMTP server
// (normally the stub), walks through EHLO, MAIL FROM, RCPT TO and DATA, and
// hangs up with QUIT. It is how the CLI's -probe mode and the tests check
// that a real client library gets along with the stub. It does not care what
// the message says.
