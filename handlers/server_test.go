package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesco/archive-redirector/pkg/redirect"
	"github.com/andesco/archive-redirector/pkg/ruleset"
)

const indexHTML = `<!DOCTYPE html>
<html><head><title>game</title><script src="https://pygame-web.github.io/archives/0.9/pythons.js"></script></head>
<body></body></html>`

func buildDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":       indexHTML,
		"game.apk":         "apk",
		"main.wasm":        "\x00asm",
		"assets.data":      "data",
		"app.js":           "console.log(1)",
		"style.css":        "body{}",
		"sub/index.html":   "<html><head></head><body>sub</body></html>",
		"archives/own.txt": "local",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func newTestApp(t *testing.T, cfg Config) *fiber.App {
	t.Helper()
	app, err := NewApp(cfg)
	require.NoError(t, err)
	return app
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestServeBuild_ContentTypes(t *testing.T) {
	app := newTestApp(t, Config{Dir: buildDir(t)})

	tests := []struct {
		path string
		want string
		body string
	}{
		{path: "/main.wasm", want: "application/wasm", body: "\x00asm"},
		{path: "/assets.data", want: "application/octet-stream", body: "data"},
		{path: "/app.js", want: "application/javascript", body: "console.log(1)"},
		{path: "/style.css", want: "text/css", body: "body{}"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))
			assert.Equal(t, tt.want, resp.Header.Get(fiber.HeaderContentType))
			assert.Equal(t, tt.body, readBody(t, resp))
		})
	}
}

func TestServeBuild_IndexAndNotFound(t *testing.T) {
	app := newTestApp(t, Config{Dir: buildDir(t)})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, indexHTML, readBody(t, resp))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/sub/", nil))
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "sub")

	for _, path := range []string{"/missing.js", "/../../etc/passwd", "/archives/"} {
		resp, err = app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestServeBuild_Inject(t *testing.T) {
	app := newTestApp(t, Config{Dir: buildDir(t), Inject: true})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/index.html", nil))
	require.NoError(t, err)
	body := readBody(t, resp)

	override := strings.Index(body, `<script src="/override.js"></script>`)
	loader := strings.Index(body, "pythons.js")
	require.GreaterOrEqual(t, override, 0)
	assert.Less(t, override, loader)

	// non-HTML files are untouched
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/app.js", nil))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", readBody(t, resp))
}

func TestOverrideScript(t *testing.T) {
	app := newTestApp(t, Config{Dir: t.TempDir()})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, redirect.ScriptPath, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))
	assert.Contains(t, readBody(t, resp), ruleset.CDN)
}

func TestProxyArchives(t *testing.T) {
	var gotPath, gotRange string
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRange = r.Header.Get("Range")
		if r.URL.Path == "/archives/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-tar")
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, "archive-bytes")
	}))
	defer cdn.Close()

	rules := ruleset.RuleSet{
		{Match: ruleset.Local, Replace: cdn.URL + "/archives/"},
		{Match: ruleset.Local2, Replace: cdn.URL + "/archives/"},
	}
	app := newTestApp(t, Config{
		Dir:       buildDir(t),
		Rules:     rules,
		Proxy:     true,
		Timeout:   5 * time.Second,
		Transport: cdn.Client().Transport,
		LogURLs:   true,
	})

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8000/archives/0.9/game.tar.gz?x=1", nil)
	req.Header.Set("Range", "bytes=0-3")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-tar", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, `"v1"`, resp.Header.Get(fiber.HeaderETag))
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))
	assert.Equal(t, "archive-bytes", readBody(t, resp))
	assert.Equal(t, "/archives/0.9/game.tar.gz", gotPath)
	assert.Equal(t, "bytes=0-3", gotRange)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8000/archives/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// a host no rule covers is served from the build directory
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "http://localhost:9000/archives/own.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "local", readBody(t, resp))
}

func TestProxyArchives_UpstreamDown(t *testing.T) {
	cdn := httptest.NewServer(http.NotFoundHandler())
	cdnURL := cdn.URL
	cdn.Close()

	app := newTestApp(t, Config{
		Dir:     t.TempDir(),
		Rules:   ruleset.RuleSet{{Match: ruleset.Local, Replace: cdnURL + "/archives/"}},
		Proxy:   true,
		Timeout: time.Second,
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://localhost:8000/archives/x", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestNoStore_OnErrors(t *testing.T) {
	app := newTestApp(t, Config{Dir: buildDir(t)})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing.js", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))

	failing := fiber.New()
	failing.Use(NoStore)
	failing.Get("/boom", func(c *fiber.Ctx) error { return fiber.ErrInternalServerError })
	resp, err = failing.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))
}

func TestProxyArchives_RewritesOncePerRequest(t *testing.T) {
	var (
		outcomes []redirect.Outcome
		fetched  []string
	)
	r := redirect.New(nil, redirect.WithObserver(func(res redirect.Result) {
		outcomes = append(outcomes, res.Outcome)
	}))
	fetch := func(_ context.Context, input any, _ *redirect.RequestInit) (*http.Response, error) {
		req := input.(*redirect.Request)
		fetched = append(fetched, req.URL)
		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        http.Header{"Content-Type": []string{"application/wasm"}},
			Body:          io.NopCloser(strings.NewReader("wasm")),
			ContentLength: 4,
		}, nil
	}

	app := fiber.New()
	app.Get("/archives/*", ProxyArchives(r, fetch))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://localhost:8000/archives/python.wasm", nil))
	require.NoError(t, err)
	assert.Equal(t, "wasm", readBody(t, resp))
	assert.Equal(t, "application/wasm", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, []string{ruleset.CDN + "python.wasm"}, fetched)
	assert.Equal(t, []redirect.Outcome{redirect.Rewritten}, outcomes)
}

func TestProxyArchives_StreamsLargeBodies(t *testing.T) {
	payload := strings.Repeat("0123456789abcdef", 1<<16)
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no Content-Length: the body arrives chunked
		for i := 0; i < len(payload); i += 1 << 14 {
			_, _ = io.WriteString(w, payload[i:i+1<<14])
			w.(http.Flusher).Flush()
		}
	}))
	defer cdn.Close()

	app := newTestApp(t, Config{
		Dir:       t.TempDir(),
		Rules:     ruleset.RuleSet{{Match: ruleset.Local, Replace: cdn.URL + "/archives/"}},
		Proxy:     true,
		Timeout:   5 * time.Second,
		Transport: cdn.Client().Transport,
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://localhost:8000/archives/big.tar.gz", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, payload, readBody(t, resp))
}
