package smtpstub

// smtpstub is a single-connection SMTP test double. A Listener binds an
// address, accepts a client, and hands the connection to a Session, which
// answers each command line with a fixed status line. It delivers nothing and
// stores nothing: it exists so tests can point a real SMTP client at it and
// assert on the client's behavior.
