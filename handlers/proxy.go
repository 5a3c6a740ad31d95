package handlers

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/andesco/archive-redirector/pkg/redirect"
)

// forwardedHeaders are copied from the loader's request to the CDN.
var forwardedHeaders = []string{
	fiber.HeaderAccept,
	fiber.HeaderRange,
	fiber.HeaderIfNoneMatch,
	fiber.HeaderIfModifiedSince,
}

// returnedHeaders are copied from the CDN response back to the loader.
var returnedHeaders = []string{
	fiber.HeaderContentType,
	fiber.HeaderContentRange,
	fiber.HeaderAcceptRanges,
	fiber.HeaderETag,
	fiber.HeaderLastModified,
}

// ProxyArchives serves archive requests that reach this server directly,
// for loaders that do not run the override script. The request URL as the
// loader built it is rewritten once and the CDN response is streamed back.
// Requests no rule maps away from this server fall through to the next
// handler.
func ProxyArchives(r *redirect.Redirector, fetch redirect.FetchFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		localURL := c.BaseURL() + c.OriginalURL()
		res := r.Rewrite(localURL)
		if res.Outcome != redirect.Rewritten {
			return c.Next()
		}

		header := make(http.Header)
		for _, key := range forwardedHeaders {
			if value := c.Get(key); value != "" {
				header.Set(key, value)
			}
		}

		resp, err := fetch(c.UserContext(), &redirect.Request{
			URL:    res.URL,
			Method: c.Method(),
			Header: header,
		}, nil)
		if err != nil {
			log.Error().Err(err).Str("url", res.URL).Msg("could not fetch archive")
			return c.Status(fiber.StatusBadGateway).SendString(fmt.Sprintf("error fetching archive: %v", err))
		}

		for _, key := range returnedHeaders {
			if value := resp.Header.Get(key); value != "" {
				c.Set(key, value)
			}
		}

		// fasthttp closes the body once it has been written out.
		size := -1
		if resp.ContentLength >= 0 {
			size = int(resp.ContentLength)
		}
		return c.Status(resp.StatusCode).SendStream(resp.Body, size)
	}
}
