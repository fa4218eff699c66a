package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/ptgott/smtpstub/email"
	"github.com/ptgott/smtpstub/smtpstub"
	"github.com/ptgott/smtpstub/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	log.Logger = log.With().Caller().Logger()

	configPath := flag.String(
		"config",
		"",
		"path to a JSON or YAML file containing your configuration (optional)",
	)
	addr := flag.String(
		"addr",
		"",
		"host:port to listen on, or to probe with -probe (overrides the config)",
	)
	loop := flag.Bool(
		"loop",
		false,
		"keep accepting connections after the first session ends",
	)
	probe := flag.Bool(
		"probe",
		false,
		"send one message to -addr with a real SMTP client instead of serving",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	config := loadConfig(*configPath)
	config.SetAddress(*addr)
	if *loop {
		config.Server.Loop = true
	}

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem validating your config")
		os.Exit(1)
	}

	if *probe {
		runProbe(checkedConfig)
		return
	}

	// Intercept interrupts so the listener and any session shut down
	// cleanly instead of leaving a half-open socket behind.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func(c chan os.Signal) {
		<-c
		log.Info().Msg("interrupt: exiting")
		cancel()
	}(sigCh)

	l := smtpstub.NewListener(checkedConfig.Server.StubConfig(), nil)
	if err := l.Serve(ctx); err != nil {
		log.Error().
			Err(err).
			Str("address", checkedConfig.Server.Address).
			Msg("SMTP stub failed")
		os.Exit(1)
	}
	log.Info().Msg("SMTP session finished")
}

// loadConfig reads the config file at path, or returns the defaults when
// path is empty. Any problem here is fatal.
func loadConfig(path string) *userconfig.Meta {
	if path == "" {
		return userconfig.Default()
	}

	log.Info().
		Str("configPath", path).
		Msg("reading the config file")

	f, err := os.Open(path)
	if err != nil {
		log.Error().
			Str("config-path", path).
			Err(err).
			Msg("We can't open the application config file")
		os.Exit(1)
	}
	defer f.Close()

	config, err := userconfig.Parse(f)
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem parsing your config")
		os.Exit(1)
	}
	return config
}

func runProbe(config userconfig.Meta) {
	pc := config.Probe
	if pc.RelayAddress == "" {
		pc.RelayAddress = config.Server.Address
	}

	c, err := email.NewSMTPClient(pc)
	if err != nil {
		log.Error().Err(err).Msg("Problem setting up the probe")
		os.Exit(1)
	}

	if err := c.Send("This is a probe message.\r\n"); err != nil {
		log.Error().
			Err(err).
			Str("address", c.Address()).
			Msg("the probe message was not accepted")
		os.Exit(1)
	}

	log.Info().
		Str("address", c.Address()).
		Msg("the probe message was accepted")
}
