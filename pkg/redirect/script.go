package redirect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/andesco/archive-redirector/pkg/ruleset"
)

// ScriptPath is where the development server exposes the override script.
const ScriptPath = "/override.js"

var scriptTemplate = template.Must(template.New("override").Funcs(template.FuncMap{
	"js": jsString,
}).Parse(`(function () {
  const RULES = [{{range $i, $r := .}}{{if $i}},{{end}}
    [{{js $r.Match}}, {{js $r.Replace}}]{{end}}
  ];
  const rewrite = function (u) {
    for (const [match, replace] of RULES) {
      u = u.replace(match, replace);
    }
    return u;
  };

  const _fetch = window.fetch.bind(window);
  window.fetch = function (input, init) {
    try {
      if (typeof input === "string") {
        input = rewrite(input);
      } else if (input && input.url) {
        const u = rewrite(input.url);
        if (u !== input.url) {
          input = new Request(u, input);
        }
      }
    } catch (e) {}
    return _fetch(input, init);
  };

  const _open = XMLHttpRequest.prototype.open;
  XMLHttpRequest.prototype.open = function (method, url) {
    const args = Array.prototype.slice.call(arguments);
    try {
      args[1] = rewrite(url);
    } catch (e) {}
    return _open.apply(this, args);
  };
})();
`))

func jsString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Script renders a browser script that patches fetch and
// XMLHttpRequest.prototype.open with rules.
func Script(rules ruleset.RuleSet) ([]byte, error) {
	if rules == nil {
		rules = ruleset.Default()
	}
	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, rules); err != nil {
		return nil, fmt.Errorf("error rendering override script: %w", err)
	}
	return buf.Bytes(), nil
}
