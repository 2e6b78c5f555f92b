// lwm2m-client emulates an LwM2M device against a running gateway.
//
// It registers a Device object (/3/0) and a temperature sensor (/3303/0),
// then reports a drifting temperature at a fixed interval until
// interrupted, when it deregisters.
//
//	lwm2m-client -server 127.0.0.1:5683 -endpoint dev-1 -interval 5s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lwm2m-gateway/internal/client"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/config"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

var version = "dev"

// options are the parsed command line flags.
type options struct {
	server     string
	endpoint   string
	lifetime   time.Duration
	queueMode  bool
	interval   time.Duration
	configPath string
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("lwm2m-client", flag.ContinueOnError)
	fs.SetOutput(output)

	var opts options
	fs.StringVar(&opts.server, "server", "127.0.0.1:5683", "gateway CoAP address (host:port)")
	fs.StringVar(&opts.endpoint, "endpoint", "", "endpoint client name (default: random)")
	fs.DurationVar(&opts.lifetime, "lifetime", 600*time.Second, "registration lifetime")
	fs.BoolVar(&opts.queueMode, "queue", false, "register with queue mode binding (UQ)")
	fs.DurationVar(&opts.interval, "interval", 10*time.Second, "temperature report interval")
	fs.StringVar(&opts.configPath, "config", "", "gateway config file for client timeouts and logging")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error or 0-5)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %v", fs.Args())
		fmt.Fprintln(output, err)
		return options{}, err
	}
	if opts.interval <= 0 {
		err := fmt.Errorf("interval must be positive")
		fmt.Fprintln(output, err)
		return options{}, err
	}
	if opts.endpoint == "" {
		opts.endpoint = "test-" + uuid.NewString()[:8]
	}
	return opts, nil
}

// sessionConfig builds the session config from flags and, when given, the
// client section of a gateway config file.
func sessionConfig(opts options) (client.Config, config.LoggingConfig, error) {
	cfg := client.DefaultConfig(opts.endpoint)
	cfg.Lifetime = opts.lifetime
	cfg.QueueMode = opts.queueMode
	if opts.queueMode {
		cfg.Binding = "UQ"
	}

	logCfg := config.LoggingConfig{Level: opts.logLevel, Format: "text", Output: "stderr"}

	if opts.configPath != "" {
		fileCfg, err := config.Load(opts.configPath)
		if err != nil {
			return client.Config{}, config.LoggingConfig{}, fmt.Errorf("loading config: %w", err)
		}
		if fileCfg.Client.HandshakeTimeoutMS > 0 {
			cfg.HandshakeTimeout = time.Duration(fileCfg.Client.HandshakeTimeoutMS) * time.Millisecond
		}
		if fileCfg.Client.DrainDelayMS >= 0 {
			cfg.DrainDelay = time.Duration(fileCfg.Client.DrainDelayMS) * time.Millisecond
		}
		logCfg = fileCfg.Logging
	}

	return cfg, logCfg, nil
}

func run(ctx context.Context, opts options) error {
	sessCfg, logCfg, err := sessionConfig(opts)
	if err != nil {
		return err
	}

	log := logging.New(logCfg, version)
	session := client.NewSession(sessCfg)
	session.SetLogger(log)

	if err := session.Connect(ctx, opts.server); err != nil {
		return fmt.Errorf("connecting to %s: %w", opts.server, err)
	}
	log.Info("device registered",
		"endpoint", opts.endpoint,
		"server", opts.server,
		"location", session.Location(),
	)

	defer func() {
		// The signal context is already cancelled here.
		stopCtx, cancel := context.WithTimeout(context.Background(), sessCfg.HandshakeTimeout)
		defer cancel()
		if err := session.Disconnect(stopCtx); err != nil {
			log.Warn("deregistration failed", "error", err)
		}
		log.Info("device stopped", "endpoint", opts.endpoint)
	}()

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	temp := 20.0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			temp = nextTemperature(temp, rand.Float64())
			if err := session.UpdateResource(ctx, client.PathTemperature, lwm2m.FloatValue(temp)); err != nil {
				log.Warn("temperature report failed", "error", err)
				continue
			}
			log.Debug("temperature reported", "value", temp)
		}
	}
}

// nextTemperature drifts t by up to ±0.5 for r in [0,1), rounded to one
// decimal and kept within 15..30.
func nextTemperature(t, r float64) float64 {
	next := t + (r - 0.5)
	next = math.Round(next*10) / 10
	return math.Min(30, math.Max(15, next))
}
