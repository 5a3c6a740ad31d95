package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/andesco/archive-redirector/pkg/redirect"
	"github.com/andesco/archive-redirector/pkg/ruleset"
)

// Config describes the development server.
type Config struct {
	// Dir is the web build directory, the one holding index.html.
	Dir string
	// Rules default to ruleset.Default when nil.
	Rules ruleset.RuleSet
	// Inject adds the override script to served HTML documents.
	Inject bool
	// Proxy fetches rewritten archive requests from the CDN.
	Proxy bool
	// Timeout bounds each CDN fetch.
	Timeout time.Duration
	// LogURLs logs every rewrite attempt at debug level.
	LogURLs bool
	// Transport is the base round tripper for CDN fetches. Nil uses
	// http.DefaultTransport.
	Transport http.RoundTripper
	// AccessLog enables per-request access logging.
	AccessLog bool
}

// NewApp builds the fiber app serving cfg.Dir with the override installed.
func NewApp(cfg Config) (*fiber.App, error) {
	rules := cfg.Rules
	if rules == nil {
		rules = ruleset.Default()
	}

	script, err := redirect.Script(rules)
	if err != nil {
		return nil, err
	}

	var opts []redirect.Option
	if cfg.LogURLs {
		opts = append(opts, redirect.WithObserver(logResult))
	}
	r := redirect.New(rules, opts...)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(logger.New())
	}
	app.Use(NoStore)

	app.Get(redirect.ScriptPath, OverrideScript(script))

	if cfg.Proxy {
		// The transport only catches CDN redirects back to a local URL, so
		// it reports nothing to the observer.
		client := redirect.NewTransport(redirect.New(rules), cfg.Transport).Client()
		client.Timeout = cfg.Timeout
		app.Get("/archives/*", ProxyArchives(r, redirect.HTTPFetch(client)))
	}

	app.Get("/*", ServeBuild(cfg.Dir, cfg.Inject))

	return app, nil
}

// NoStore marks every response, errors included, as uncacheable.
func NoStore(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Next()
}

// OverrideScript serves the rendered override script.
func OverrideScript(script []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, ContentType(redirect.ScriptPath))
		return c.Send(script)
	}
}

func logResult(res redirect.Result) {
	if res.Outcome == redirect.Unchanged {
		return
	}
	log.Debug().
		Str("outcome", res.Outcome.String()).
		Str("from", res.Original).
		Str("to", res.URL).
		Err(res.Err).
		Msg("rewrite")
}
