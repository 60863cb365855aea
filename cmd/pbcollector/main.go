package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pbcollector/internal/collector"
	"pbcollector/internal/log"
	"pbcollector/internal/meta"
	"pbcollector/internal/metrics"
	"pbcollector/internal/network"
	"pbcollector/internal/validate"

	"github.com/getsentry/raven-go"
)

// dnstapEndpoint is the name of the endpoint configured by the dnstap block.
const dnstapEndpoint = "dnstap"

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("PBCOLLECTOR_CONFIG"),
		"path to the configuration file on disk",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled pbcollector version SHA",
	)
	verbosity := log.Error
	flag.Var(
		&verbosity,
		"verbosity",
		"desired logging verbosity: one of error, warn, info, debug",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("pbcollector/%s\n", meta.Version())
		return
	}

	// Logging configuration; default to log.Error verbosity
	logger := log.NewConsoleLogger(verbosity)
	logger.Debug("main: initialized logger: level=%v", verbosity)

	// Parse application configuration
	logger.Debug("main: reading and parsing config: path=%s", *configPath)
	config, err := meta.ParseConfig(*configPath)
	if err != nil {
		logger.Error("main: %v", err)
		os.Exit(1)
	}

	// The configured verbosity applies unless overridden on the command line
	if config.Application != nil && config.Application.Verbosity != nil && !flagSet("verbosity") {
		logger = log.NewConsoleLogger(*config.Application.Verbosity)
		logger.Debug("main: using configured logger verbosity: level=%v", *config.Application.Verbosity)
	}

	// Configure error reporting
	if config.Application != nil && config.Application.SentryDSN != "" {
		raven.SetDSN(config.Application.SentryDSN)
		raven.SetRelease(meta.Version())
	}

	// Configure metrics reporting
	hooks := collector.NoopHooks()

	if config.Metrics != nil && config.Metrics.Statsd != nil {
		addr := config.Metrics.Statsd.Address
		rate := float32(config.Metrics.Statsd.SampleRate)

		logger.Info("main: configuring statsd metrics reporting: addr=%s sample_rate=%f", addr, rate)

		if hooks.Connection, err = metrics.NewAsyncStatsdConnectionLifecycleHook("producer", addr, rate, meta.Version()); err != nil {
			panic(err)
		}

		if hooks.Ingest, err = metrics.NewAsyncStatsdIngestHook(addr, rate, meta.Version()); err != nil {
			panic(err)
		}

		if hooks.Validation, err = metrics.NewAsyncStatsdValidationHook(addr, rate, meta.Version()); err != nil {
			panic(err)
		}
	} else {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
	}

	// Configure collector endpoints
	var opts collector.Opts
	for _, endpoint := range config.Collector.Endpoints {
		logger.Info(
			"main: configuring collector endpoint: name=%s addr=%s queue_capacity=%d",
			endpoint.Name,
			endpoint.Address,
			endpoint.QueueCapacity,
		)

		opts.Endpoints = append(opts.Endpoints, collector.EndpointOpts{
			Name:                     endpoint.Name,
			Addr:                     endpoint.Address,
			QueueCapacity:            endpoint.QueueCapacity,
			PushTimeout:              endpoint.PushTimeout,
			ReadTimeout:              endpoint.ReadTimeout,
			MaxConcurrentConnections: endpoint.MaxConcurrentConnections,
		})
	}

	if config.Collector.Dnstap != nil {
		logger.Info("main: configuring dnstap endpoint: addr=%s", config.Collector.Dnstap.Address)

		opts.Endpoints = append(opts.Endpoints, collector.EndpointOpts{
			Name:          dnstapEndpoint,
			Addr:          config.Collector.Dnstap.Address,
			Dnstap:        true,
			Bidirectional: config.Collector.Dnstap.Bidirectional,
		})
	}

	c, err := collector.New(opts, hooks, logger)
	if err != nil {
		logger.Error("main: %v", err)
		os.Exit(1)
	}

	// A listener that cannot bind is a configuration error
	if err := c.Listen(); err != nil {
		var bindErr *network.BindError
		if errors.As(err, &bindErr) {
			raven.CaptureErrorAndWait(err, map[string]string{"endpoint": bindErr.Endpoint})
		}

		logger.Error("main: %v", err)
		os.Exit(1)
	}

	go func() {
		if err := c.Serve(); err != nil {
			panic(err)
		}
	}()

	// Validate every received record
	profile := validate.Profile{
		MaxCacheTTL: 0,
		MaskV4:      32,
		MaskV6:      128,
	}
	consistency := false

	if v := config.Validation; v != nil {
		profile.MaxCacheTTL = v.MaxCacheTTL
		profile.MaskV4 = v.MaskV4Bits()
		profile.MaskV6 = v.MaskV6Bits()
		profile.Tags = v.Tags
		consistency = v.Consistency
	}

	consumer := collector.NewConsumer(c, collector.ConsumerOpts{
		Profile:     profile,
		Consistency: consistency,
	}, hooks.Validation, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("main: consuming records indefinitely")

	if err := consumer.Run(ctx); err != nil {
		logger.Error("main: consumer failed: err=%v", err)
	}

	stats := consumer.Stats()
	logger.Info(
		"main: shutting down: records=%d schema_errors=%d check_failures=%d mismatches=%d missing=%d",
		stats.Records,
		stats.SchemaErrors,
		stats.CheckFailures,
		stats.ConsistencyMismatches,
		stats.ConsistencyMissing,
	)

	if err := c.Close(); err != nil {
		logger.Warn("main: error closing collector: err=%v", err)
	}
}

// flagSet reports whether the named flag was given on the command line.
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})

	return set
}
