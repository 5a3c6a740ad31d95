package handlers

import (
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/andesco/archive-redirector/pkg/redirect"
)

// contentTypes overrides the system MIME table for the files a web build
// is made of.
var contentTypes = map[string]string{
	".wasm": "application/wasm",
	".data": "application/octet-stream",
	".js":   "application/javascript",
	".css":  "text/css",
}

// ContentType returns the MIME type served for name.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ServeBuild serves files from dir. Directory requests resolve to
// index.html. When inject is set, HTML documents get the override script
// added to their head.
func ServeBuild(dir string, inject bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name, err := resolve(dir, c.Path())
		if err != nil {
			return fiber.ErrNotFound
		}

		body, err := os.ReadFile(name)
		if err != nil {
			log.Error().Err(err).Str("file", name).Msg("could not read file")
			return fiber.ErrInternalServerError
		}

		ct := ContentType(name)
		if inject && strings.HasPrefix(ct, "text/html") {
			injected, err := InjectScript(body, redirect.ScriptPath)
			if err != nil {
				log.Warn().Err(err).Str("file", name).Msg("serving document without override script")
			} else {
				body = injected
			}
		}

		c.Set(fiber.HeaderContentType, ct)
		return c.Send(body)
	}
}

// resolve maps a request path onto a regular file inside dir.
func resolve(dir, reqPath string) (string, error) {
	clean := path.Clean("/" + reqPath)
	name := filepath.Join(dir, filepath.FromSlash(clean))

	info, err := os.Stat(name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		name = filepath.Join(name, "index.html")
		if info, err = os.Stat(name); err != nil {
			return "", err
		}
	}
	if !info.Mode().IsRegular() {
		return "", fs.ErrNotExist
	}
	return name, nil
}
