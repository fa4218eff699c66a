package email

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog/log"
)

const smtpScheme string = "smtp://"

const (
	defaultHeloName = "localhost"
	defaultSubject  = "smtpstub probe"
	defaultFrom     = "probe@localhost"
	defaultTo       = "recipient@localhost"
)

// UserConfig represents config options provided by
// the user. Not meant to be used directly for sending
// email without validation.
type UserConfig struct {
	RelayAddress string `yaml:"relayAddress"`
	FromAddress  string `yaml:"fromAddress"`
	ToAddress    string `yaml:"toAddress"`
	HeloName     string `yaml:"heloName"`
	Subject      string `yaml:"subject"`
}

// CheckAndSetDefaults returns a copy of uc with defaults filled in. The relay
// address is left alone since the CLI fills it in from the server address.
func (uc UserConfig) CheckAndSetDefaults() (UserConfig, error) {
	if uc.HeloName == "" {
		uc.HeloName = defaultHeloName
	}
	if uc.Subject == "" {
		uc.Subject = defaultSubject
	}
	if uc.FromAddress == "" {
		uc.FromAddress = defaultFrom
	}
	if uc.ToAddress == "" {
		uc.ToAddress = defaultTo
	}
	if strings.ContainsAny(uc.HeloName+uc.FromAddress+uc.ToAddress+uc.Subject, "\r\n") {
		return UserConfig{}, errors.New("probe settings can't contain line breaks")
	}
	return uc, nil
}

// NewSMTPClient validates user input and returns a client
// that we can use to send a probe message. Returns an error
// on validation failure.
func NewSMTPClient(uc UserConfig) (*SMTPClient, error) {
	if uc.ToAddress == "" || uc.FromAddress == "" {
		return &SMTPClient{}, errors.New("must supply a \"to\" address and a \"from\" address")
	}

	if uc.RelayAddress == "" {
		return &SMTPClient{}, errors.New("must supply a relay address")
	}

	// Don't require the user to include a scheme. If we can't
	// find one, use one for SMTP.
	var ra string
	// Not handling the error since it only happens on compilation, which
	// won't fail since the regexp is constant.
	m, _ := regexp.MatchString(fmt.Sprintf("^%v", smtpScheme), uc.RelayAddress)
	if m {
		ra = uc.RelayAddress
	} else {
		ra = fmt.Sprintf("%v%v", smtpScheme, uc.RelayAddress)
	}

	u, err := url.Parse(ra)

	if err != nil {
		return &SMTPClient{}, err
	}

	if u.Port() == "" {
		return &SMTPClient{}, fmt.Errorf("the relay address %v has no port", uc.RelayAddress)
	}

	helo := uc.HeloName
	if helo == "" {
		helo = defaultHeloName
	}
	subject := uc.Subject
	if subject == "" {
		subject = defaultSubject
	}

	return &SMTPClient{
		FromAddress: uc.FromAddress,
		ToAddress:   uc.ToAddress,
		address:     net.JoinHostPort(u.Hostname(), u.Port()),
		heloName:    helo,
		subject:     subject,
	}, nil
}

// SMTPClient handles interactions with the SMTP server
type SMTPClient struct {
	address     string
	heloName    string
	subject     string
	FromAddress string
	ToAddress   string
}

// Address returns the host:port the client dials.
func (sc *SMTPClient) Address() string {
	return sc.address
}

// Send delivers body to the server in one session, ending with QUIT. A lack
// of an error means every command got the reply a client expects.
func (sc *SMTPClient) Send(body string) error {
	c, err := smtp.Dial(sc.address)
	if err != nil {
		return fmt.Errorf("can't connect to %v: %w", sc.address, err)
	}
	defer c.Close()

	if err := c.Hello(sc.heloName); err != nil {
		return fmt.Errorf("the server rejected EHLO: %w", err)
	}

	if err := c.Mail(sc.FromAddress, nil); err != nil {
		return fmt.Errorf("the server rejected MAIL FROM: %w", err)
	}

	if err := c.Rcpt(sc.ToAddress); err != nil {
		return fmt.Errorf("the server rejected RCPT TO: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("the server rejected DATA: %w", err)
	}

	if _, err := w.Write([]byte(sc.message(body))); err != nil {
		return fmt.Errorf("can't write the message body: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("the server did not accept the message: %w", err)
	}

	log.Debug().
		Str("address", sc.address).
		Str("to", sc.ToAddress).
		Msg("message accepted")

	return c.Quit()
}

// CheckStartTLS asks the server to upgrade to TLS and returns the server's
// refusal. The stub never offers TLS, so a nil return means something else
// is listening at the address.
func (sc *SMTPClient) CheckStartTLS() error {
	c, err := smtp.Dial(sc.address)
	if err != nil {
		return fmt.Errorf("can't connect to %v: %w", sc.address, err)
	}
	defer c.Close()

	if err := c.Hello(sc.heloName); err != nil {
		return fmt.Errorf("the server rejected EHLO: %w", err)
	}

	tlsErr := c.StartTLS(&tls.Config{ServerName: sc.heloName})
	if tlsErr == nil {
		return nil
	}

	// The refusal shouldn't end the session.
	if err := c.Quit(); err != nil {
		return fmt.Errorf("the session did not survive the STARTTLS refusal: %w", err)
	}
	return tlsErr
}

// message builds headers plus body with CRLF line endings.
func (sc *SMTPClient) message(body string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "From: %v\r\n", sc.FromAddress)
	fmt.Fprintf(b, "To: %v\r\n", sc.ToAddress)
	fmt.Fprintf(b, "Subject: %v\r\n", sc.subject)
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.TrimRight(body, "\r\n"), "\r\n", "\n"))
	b.WriteString("\r\n")
	return b.String()
}
