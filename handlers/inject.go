package handlers

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// InjectScript prepends <script src="src"></script> to the document head so
// it runs before any loader script. Documents that already reference src
// are returned unchanged.
func InjectScript(body []byte, src string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not parse HTML for injection: %w", err)
	}

	if doc.Find(fmt.Sprintf("script[src=%q]", src)).Length() > 0 {
		return body, nil
	}

	doc.Find("head").PrependHtml(fmt.Sprintf(`<script src=%q></script>`, src))

	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("could not render HTML after injection: %w", err)
	}
	return []byte(html), nil
}
