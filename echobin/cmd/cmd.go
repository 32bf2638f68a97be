// Package cmd implements the echobin command line interface as a testable
// package.
package cmd

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/echobin/echobin/echobin"
)

const (
	defaultListenHost = "0.0.0.0"
	defaultListenPort = 8080

	// Reasonable defaults for our http server
	srvReadTimeout       = 5 * time.Second
	srvReadHeaderTimeout = 1 * time.Second
	srvMaxHeaderBytes    = 16 * 1024 // 16kb
)

// Main is the main entrypoint for the echobin binary. See loadConfig() for
// command line argument parsing.
func Main() int {
	return mainImpl(os.Args[1:], os.Getenv, os.Environ, os.Hostname, os.Stderr)
}

// mainImpl is the real implementation of Main(), extracted for better
// testability.
func mainImpl(args []string, getEnv func(string) string, environ func() []string, getHostname func() (string, error), out io.Writer) int {
	logger := log.New(out, "", 0)

	cfg, err := loadConfig(args, getEnv, getHostname)
	if err != nil {
		if cfgErr, ok := err.(ConfigError); ok {
			// for -h/-help, just print usage and exit without error
			if cfgErr.Err == flag.ErrHelp {
				fmt.Fprint(out, cfgErr.Usage)
				return 0
			}

			// anything else indicates a problem with CLI arguments, env vars,
			// or the config file, so print error and usage and exit with an
			// error status.
			//
			// note: seems like there's consensus that an exit code of 2 is
			// often used to indicate a problem with the way a command was
			// called, e.g.:
			// https://stackoverflow.com/a/40484670/151221
			// https://linuxconfig.org/list-of-exit-codes-on-linux
			fmt.Fprintf(out, "error: %s\n\n%s", cfgErr.Err, cfgErr.Usage)
			return 2
		}
		fmt.Fprintf(out, "error: %s", err)
		return 1
	}

	opts := []echobin.OptionFunc{
		echobin.WithMaxBodySize(cfg.MaxBodySize),
		echobin.WithMaxDuration(cfg.MaxDuration),
		echobin.WithObserver(echobin.StdLogObserver(logger)),
		echobin.WithEnv(echoEnv(environ())),
	}
	if cfg.RealHostname != "" {
		opts = append(opts, echobin.WithHostname(cfg.RealHostname))
	}
	if len(cfg.AllowedRedirectDomains) > 0 {
		opts = append(opts, echobin.WithAllowedRedirectDomains(cfg.AllowedRedirectDomains))
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, echobin.WithRateLimit(cfg.RateLimit, burst))
	}
	if cfg.EnableMetrics {
		opts = append(opts, echobin.WithMetrics(prometheus.NewRegistry()))
	}
	app := echobin.New(opts...)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.ListenPort)),
		Handler:           app.Handler(),
		MaxHeaderBytes:    srvMaxHeaderBytes,
		ReadHeaderTimeout: srvReadHeaderTimeout,
		ReadTimeout:       srvReadTimeout,
	}

	if err := listenAndServeGracefully(srv, cfg, logger); err != nil {
		logger.Printf("error: %s", err)
		return 1
	}

	return 0
}

// config holds the configuration needed to initialize and run echobin as a
// standalone server.
type config struct {
	AllowedRedirectDomains []string
	EnableMetrics          bool
	ListenHost             string
	ListenPort             int
	MaxBodySize            int64
	MaxDuration            time.Duration
	RateLimit              float64
	RealHostname           string
	TLSCertFile            string
	TLSKeyFile             string

	// temporary placeholders for arguments that need extra processing
	rawAllowedRedirectDomains string
	rawConfigFile             string
	rawUseRealHostname        bool
}

// fileConfig is the YAML shape of an optional config file, the lowest layer
// of the flags > env vars > file > defaults resolution order. Durations are
// strings because yaml.v3 does not unmarshal time.Duration.
type fileConfig struct {
	AllowedRedirectDomains []string `yaml:"allowed_redirect_domains"`
	EnableMetrics          *bool    `yaml:"enable_metrics"`
	ListenHost             string   `yaml:"host"`
	ListenPort             int      `yaml:"port"`
	MaxBodySize            int64    `yaml:"max_body_size"`
	MaxDuration            string   `yaml:"max_duration"`
	RateLimit              float64  `yaml:"rate_limit"`
	TLSCertFile            string   `yaml:"https_cert_file"`
	TLSKeyFile             string   `yaml:"https_key_file"`
	UseRealHostname        *bool    `yaml:"use_real_hostname"`
}

// ConfigError is used to signal an error with a command line argument or
// environmment variable.
//
// It carries the command's usage output, so that we can decouple configuration
// parsing from error reporting for better testability.
type ConfigError struct {
	Err   error
	Usage string
}

// Error implements the error interface.
func (e ConfigError) Error() string {
	return e.Err.Error()
}

// loadConfig parses command line arguments, env vars, and an optional YAML
// config file into a fully resolved config struct. Command line arguments
// take precedence over env vars, which take precedence over the file.
func loadConfig(args []string, getEnv func(string) string, getHostname func() (string, error)) (*config, error) {
	cfg := &config{}

	fs := flag.NewFlagSet("echobin", flag.ContinueOnError)
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", false, "Enable Prometheus instrumentation and the /metrics endpoint")
	fs.BoolVar(&cfg.rawUseRealHostname, "use-real-hostname", false, "Expose value of os.Hostname() in the /hostname endpoint instead of dummy value")
	fs.DurationVar(&cfg.MaxDuration, "max-duration", echobin.DefaultMaxDuration, "Maximum duration a response may take")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", 0, "Maximum requests per second to serve (default 0, unlimited)")
	fs.Int64Var(&cfg.MaxBodySize, "max-body-size", echobin.DefaultMaxBodySize, "Maximum size of request or response, in bytes")
	fs.IntVar(&cfg.ListenPort, "port", defaultListenPort, "Port to listen on")
	fs.StringVar(&cfg.ListenHost, "host", defaultListenHost, "Host to listen on")
	fs.StringVar(&cfg.rawAllowedRedirectDomains, "allowed-redirect-domains", "", "Comma-separated list of domains the /redirect-to endpoint will allow")
	fs.StringVar(&cfg.rawConfigFile, "config", "", "Path to optional YAML config file")
	fs.StringVar(&cfg.TLSCertFile, "https-cert-file", "", "HTTPS Server certificate file")
	fs.StringVar(&cfg.TLSKeyFile, "https-key-file", "", "HTTPS Server private key file")

	// in order to fully control error output whether CLI arguments or env vars
	// are used to configure the app, we need to take control away from the
	// flagset, which by defaults prints errors automatically.
	//
	// so, we capture the "usage" output it would generate and then trick it
	// into generating no output on errors, since they'll be handled by the
	// caller.
	//
	// yes, this is goofy, but it makes the CLI testable!
	buf := &bytes.Buffer{}
	fs.SetOutput(buf)
	fs.Usage()
	usage := buf.String()
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return nil, ConfigError{err, usage}
	}

	// helper to generate a new ConfigError to return
	configErr := func(format string, a ...any) error {
		return ConfigError{
			Err:   fmt.Errorf(format, a...),
			Usage: usage,
		}
	}

	var err error

	// The config file sits below both flags and env vars, so resolve its path
	// and load it first; its values only apply to fields still holding their
	// defaults after the env var checks below.
	if cfg.rawConfigFile == "" && getEnv("CONFIG_FILE") != "" {
		cfg.rawConfigFile = getEnv("CONFIG_FILE")
	}
	var fileCfg fileConfig
	if cfg.rawConfigFile != "" {
		data, err := os.ReadFile(cfg.rawConfigFile)
		if err != nil {
			return nil, configErr("could not read config file %#v: %s", cfg.rawConfigFile, err)
		}
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, configErr("could not parse config file %#v: %s", cfg.rawConfigFile, err)
		}
	}

	// Command line flags take precedence over environment vars, so we only
	// check for environment vars if we have default values for our command
	// line flags.
	if cfg.MaxBodySize == echobin.DefaultMaxBodySize && getEnv("MAX_BODY_SIZE") != "" {
		cfg.MaxBodySize, err = strconv.ParseInt(getEnv("MAX_BODY_SIZE"), 10, 64)
		if err != nil {
			return nil, configErr("invalid value %#v for env var MAX_BODY_SIZE: parse error", getEnv("MAX_BODY_SIZE"))
		}
	}
	if cfg.MaxBodySize == echobin.DefaultMaxBodySize && fileCfg.MaxBodySize > 0 {
		cfg.MaxBodySize = fileCfg.MaxBodySize
	}

	if cfg.MaxDuration == echobin.DefaultMaxDuration && getEnv("MAX_DURATION") != "" {
		cfg.MaxDuration, err = time.ParseDuration(getEnv("MAX_DURATION"))
		if err != nil {
			return nil, configErr("invalid value %#v for env var MAX_DURATION: parse error", getEnv("MAX_DURATION"))
		}
	}
	if cfg.MaxDuration == echobin.DefaultMaxDuration && fileCfg.MaxDuration != "" {
		cfg.MaxDuration, err = time.ParseDuration(fileCfg.MaxDuration)
		if err != nil {
			return nil, configErr("invalid value %#v for max_duration in config file: parse error", fileCfg.MaxDuration)
		}
	}

	if cfg.ListenHost == defaultListenHost && getEnv("HOST") != "" {
		cfg.ListenHost = getEnv("HOST")
	}
	if cfg.ListenHost == defaultListenHost && fileCfg.ListenHost != "" {
		cfg.ListenHost = fileCfg.ListenHost
	}

	if cfg.ListenPort == defaultListenPort && getEnv("PORT") != "" {
		cfg.ListenPort, err = strconv.Atoi(getEnv("PORT"))
		if err != nil {
			return nil, configErr("invalid value %#v for env var PORT: parse error", getEnv("PORT"))
		}
	}
	if cfg.ListenPort == defaultListenPort && fileCfg.ListenPort > 0 {
		cfg.ListenPort = fileCfg.ListenPort
	}

	if cfg.RateLimit == 0 && getEnv("RATE_LIMIT") != "" {
		cfg.RateLimit, err = strconv.ParseFloat(getEnv("RATE_LIMIT"), 64)
		if err != nil {
			return nil, configErr("invalid value %#v for env var RATE_LIMIT: parse error", getEnv("RATE_LIMIT"))
		}
	}
	if cfg.RateLimit == 0 && fileCfg.RateLimit > 0 {
		cfg.RateLimit = fileCfg.RateLimit
	}
	if cfg.RateLimit < 0 {
		return nil, configErr("invalid rate limit %v: must be positive", cfg.RateLimit)
	}

	if enableMetricsEnv := getEnv("ENABLE_METRICS"); enableMetricsEnv == "1" || enableMetricsEnv == "true" {
		cfg.EnableMetrics = true
	}
	if !cfg.EnableMetrics && fileCfg.EnableMetrics != nil {
		cfg.EnableMetrics = *fileCfg.EnableMetrics
	}

	if cfg.TLSCertFile == "" && getEnv("HTTPS_CERT_FILE") != "" {
		cfg.TLSCertFile = getEnv("HTTPS_CERT_FILE")
	}
	if cfg.TLSCertFile == "" {
		cfg.TLSCertFile = fileCfg.TLSCertFile
	}
	if cfg.TLSKeyFile == "" && getEnv("HTTPS_KEY_FILE") != "" {
		cfg.TLSKeyFile = getEnv("HTTPS_KEY_FILE")
	}
	if cfg.TLSKeyFile == "" {
		cfg.TLSKeyFile = fileCfg.TLSKeyFile
	}
	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return nil, configErr("https cert and key must both be provided")
		}
	}

	// useRealHostname will be true if the `-use-real-hostname` arg is given
	// on the command line, if the USE_REAL_HOSTNAME env var is one of "1" or
	// "true", or if the config file says so.
	if useRealHostnameEnv := getEnv("USE_REAL_HOSTNAME"); useRealHostnameEnv == "1" || useRealHostnameEnv == "true" {
		cfg.rawUseRealHostname = true
	}
	if !cfg.rawUseRealHostname && fileCfg.UseRealHostname != nil {
		cfg.rawUseRealHostname = *fileCfg.UseRealHostname
	}
	if cfg.rawUseRealHostname {
		cfg.RealHostname, err = getHostname()
		if err != nil {
			return nil, fmt.Errorf("could not look up real hostname: %w", err)
		}
	}

	// split comma-separated list of domains into a slice, if given
	if cfg.rawAllowedRedirectDomains == "" && getEnv("ALLOWED_REDIRECT_DOMAINS") != "" {
		cfg.rawAllowedRedirectDomains = getEnv("ALLOWED_REDIRECT_DOMAINS")
	}
	for _, domain := range strings.Split(cfg.rawAllowedRedirectDomains, ",") {
		if strings.TrimSpace(domain) != "" {
			cfg.AllowedRedirectDomains = append(cfg.AllowedRedirectDomains, strings.TrimSpace(domain))
		}
	}
	if len(cfg.AllowedRedirectDomains) == 0 && len(fileCfg.AllowedRedirectDomains) > 0 {
		cfg.AllowedRedirectDomains = fileCfg.AllowedRedirectDomains
	}

	// reset temporary fields to their zero values
	cfg.rawAllowedRedirectDomains = ""
	cfg.rawConfigFile = ""
	cfg.rawUseRealHostname = false
	return cfg, nil
}

// echoEnv filters the process environment down to the ECHOBIN_-prefixed
// variables an operator has chosen to expose via the /env endpoint.
func echoEnv(environ []string) map[string]string {
	env := make(map[string]string)
	for _, entry := range environ {
		key, value, found := strings.Cut(entry, "=")
		if found && strings.HasPrefix(key, "ECHOBIN_") {
			env[key] = value
		}
	}
	return env
}

func listenAndServeGracefully(srv *http.Server, cfg *config, logger *log.Logger) error {
	doneCh := make(chan error, 1)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		logger.Printf("shutting down ...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.MaxDuration+1*time.Second)
		defer cancel()
		doneCh <- srv.Shutdown(ctx)
	}()

	var err error
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		logger.Printf("echobin listening on https://%s", srv.Addr)
		err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		logger.Printf("echobin listening on http://%s", srv.Addr)
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return <-doneCh
}
