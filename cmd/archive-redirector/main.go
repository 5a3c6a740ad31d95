package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/andesco/archive-redirector/handlers"
	"github.com/andesco/archive-redirector/pkg/redirect"
	"github.com/andesco/archive-redirector/pkg/ruleset"
)

var version = "dev"

type cli struct {
	parser      *argparse.Parser
	verbose     *bool
	rulesetPath *string

	serve    *argparse.Command
	dir      *string
	port     *int
	host     *string
	noInject *bool
	noProxy  *bool
	timeout  *int

	emit *argparse.Command
	out  *string
}

func newCLI() *cli {
	c := &cli{parser: argparse.NewParser("archive-redirector", "Redirects local pygame-web archive requests to the CDN")}

	c.verbose = c.parser.Flag("v", "verbose", &argparse.Options{
		Help: "Log every rewrite and request",
	})
	c.rulesetPath = c.parser.String("r", "ruleset", &argparse.Options{
		Default: os.Getenv("RULESET"),
		Help:    "YAML rule files or directories, separated by ';'",
	})

	c.serve = c.parser.NewCommand("serve", "Serve a web build with the override installed")
	c.dir = c.serve.String("d", "dir", &argparse.Options{
		Required: true,
		Help:     "Directory containing index.html",
	})
	c.port = c.serve.Int("p", "port", &argparse.Options{
		Default: getenvInt("PORT", 8000),
		Help:    "Port to listen on",
	})
	c.host = c.serve.String("H", "host", &argparse.Options{
		Default: getenv("HOST", "127.0.0.1"),
		Help:    "Address to bind to",
	})
	c.noInject = c.serve.Flag("n", "no-inject", &argparse.Options{
		Help: "Do not add the override script to HTML documents",
	})
	c.noProxy = c.serve.Flag("x", "no-proxy", &argparse.Options{
		Help: "Do not fetch /archives/ requests from the CDN",
	})
	c.timeout = c.serve.Int("t", "timeout", &argparse.Options{
		Default: getenvInt("HTTP_TIMEOUT", 15),
		Help:    "Seconds to wait for the CDN",
	})

	c.emit = c.parser.NewCommand("emit", "Write the override script into a build output")
	c.out = c.emit.String("o", "out", &argparse.Options{
		Default: filepath.Join("build", "web", "override.js"),
		Help:    "Output file",
	})

	c.parser.NewCommand("version", "Print the version")
	return c
}

// serveConfig builds the server settings from the parsed serve flags.
func (c *cli) serveConfig(rules ruleset.RuleSet) (handlers.Config, string) {
	cfg := handlers.Config{
		Dir:       *c.dir,
		Rules:     rules,
		Inject:    !*c.noInject,
		Proxy:     !*c.noProxy,
		Timeout:   time.Duration(*c.timeout) * time.Second,
		LogURLs:   *c.verbose || os.Getenv("LOG_URLS") == "true",
		AccessLog: *c.verbose,
	}
	return cfg, net.JoinHostPort(*c.host, strconv.Itoa(*c.port))
}

func main() {
	c := newCLI()
	if err := c.parser.Parse(os.Args); err != nil {
		fmt.Print(c.parser.Usage(err))
		os.Exit(2)
	}

	setupLogging(*c.verbose || os.Getenv("LOG_LEVEL") == "debug")

	rules, err := ruleset.Load(*c.rulesetPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load rules")
	}

	switch {
	case c.serve.Happened():
		cfg, addr := c.serveConfig(rules)
		if err := serve(cfg, addr, *c.port); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	case c.emit.Happened():
		if err := emit(*c.out, rules); err != nil {
			log.Fatal().Err(err).Msg("could not write override script")
		}
	default:
		fmt.Println(version)
	}
}

func serve(cfg handlers.Config, addr string, port int) error {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return fmt.Errorf("error opening build directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", cfg.Dir)
	}

	app, err := handlers.NewApp(cfg)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	abs, _ := filepath.Abs(cfg.Dir)
	log.Info().
		Str("addr", addr).
		Str("dir", abs).
		Bool("inject", cfg.Inject).
		Bool("proxy", cfg.Proxy).
		Msgf("Serving on http://localhost:%d/index.html", port)
	return app.Listen(addr)
}

func emit(out string, rules ruleset.RuleSet) error {
	script, err := redirect.Script(rules)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	if err := os.WriteFile(out, script, 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", out, err)
	}
	log.Info().Str("file", out).Int("rules", rules.Count()).Msg("wrote override script")
	return nil
}

func setupLogging(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
