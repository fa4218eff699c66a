package userconfig

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/ptgott/smtpstub/email"
	"github.com/ptgott/smtpstub/smtpstub"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Server Server           `yaml:"server"`
	Probe  email.UserConfig `yaml:"probe"`
}

// Server contains config options for the SMTP stub itself
type Server struct {
	Address       string
	GreetingDelay time.Duration
	// Zero means wait forever for the next client line
	ReadTimeout time.Duration
	// Keep accepting connections after the first session ends
	Loop           bool
	MaxSessions    int
	MaxMessageSize int64
	MaxLineLength  int
}

// DefaultServer returns the settings used when the config omits a key.
func DefaultServer() Server {
	d := smtpstub.DefaultConfig()
	return Server{
		Address:        d.Address,
		GreetingDelay:  d.GreetingDelay,
		ReadTimeout:    d.ReadTimeout,
		Loop:           d.Loop,
		MaxSessions:    d.MaxSessions,
		MaxMessageSize: d.MaxMessageSize,
		MaxLineLength:  d.MaxLineLength,
	}
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors. Keys that are absent keep whatever value s already has,
// so decode into DefaultServer() to get defaults.
func (s *Server) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the server config: %v", err)
	}

	if a, ok := v["address"]; ok {
		s.Address = a
	}

	if d, ok := v["greetingDelay"]; ok {
		pd, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("can't parse the greeting delay as a duration: %v", err)
		}
		s.GreetingDelay = pd
	}

	if d, ok := v["readTimeout"]; ok {
		pd, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("can't parse the read timeout as a duration: %v", err)
		}
		s.ReadTimeout = pd
	}

	if l, ok := v["loop"]; ok {
		b, err := strconv.ParseBool(l)
		if err != nil {
			return fmt.Errorf("can't parse loop as a boolean: %v", err)
		}
		s.Loop = b
	}

	if m, ok := v["maxSessions"]; ok {
		n, err := strconv.Atoi(m)
		if err != nil {
			return fmt.Errorf("can't parse maxSessions as an integer")
		}
		s.MaxSessions = n
	}

	if m, ok := v["maxMessageSize"]; ok {
		// Accepts things like "10MiB" or "512k"
		n, err := units.RAMInBytes(m)
		if err != nil {
			return fmt.Errorf("can't parse maxMessageSize as a size: %v", err)
		}
		s.MaxMessageSize = n
	}

	if m, ok := v["maxLineLength"]; ok {
		n, err := units.RAMInBytes(m)
		if err != nil {
			return fmt.Errorf("can't parse maxLineLength as a size: %v", err)
		}
		s.MaxLineLength = int(n)
	}

	return nil
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *Server) CheckAndSetDefaults() (Server, error) {
	if s.Address == "" {
		s.Address = smtpstub.DefaultAddress
	}

	if _, _, err := net.SplitHostPort(s.Address); err != nil {
		return Server{}, fmt.Errorf("the server address must be host:port: %v", err)
	}

	if s.GreetingDelay < 0 {
		return Server{}, errors.New("the greeting delay can't be negative")
	}

	if s.ReadTimeout < 0 {
		return Server{}, errors.New("the read timeout can't be negative")
	}

	if s.MaxSessions < 0 {
		return Server{}, errors.New("maxSessions can't be negative")
	}
	if s.MaxSessions == 0 {
		s.MaxSessions = 1
	}

	if s.MaxMessageSize < 0 {
		return Server{}, errors.New("maxMessageSize can't be negative")
	}
	if s.MaxMessageSize == 0 {
		s.MaxMessageSize = smtpstub.DefaultMaxMessageSize
	}

	if s.MaxLineLength < 0 {
		return Server{}, errors.New("maxLineLength can't be negative")
	}
	if s.MaxLineLength == 0 {
		s.MaxLineLength = smtpstub.DefaultMaxLineLength
	}

	return *s, nil
}

// StubConfig converts s into the form the smtpstub package takes.
func (s Server) StubConfig() smtpstub.Config {
	return smtpstub.Config{
		Address:        s.Address,
		GreetingDelay:  s.GreetingDelay,
		ReadTimeout:    s.ReadTimeout,
		Loop:           s.Loop,
		MaxSessions:    s.MaxSessions,
		MaxMessageSize: s.MaxMessageSize,
		MaxLineLength:  s.MaxLineLength,
	}
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	s, err := m.Server.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Server = s

	p, err := m.Probe.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Probe = p

	return c, nil
}

// SetAddress points both the server and the client at addr, overriding
// anything the config file said. An empty addr changes nothing.
func (m *Meta) SetAddress(addr string) {
	if addr == "" {
		return
	}
	m.Server.Address = addr
	m.Probe.RelayAddress = addr
}

// Default returns the configuration used when no config file is given.
func Default() *Meta {
	return &Meta{
		Server: DefaultServer(),
	}
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing. An empty document yields the
// defaults. The Reader r can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	m := Default()
	err := yaml.NewDecoder(r).Decode(m)
	if errors.Is(err, io.EOF) {
		log.Debug().Msg("the config file is empty, using defaults")
		return m, nil
	}
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	return m, nil
}
