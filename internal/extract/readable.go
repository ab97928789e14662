package extract

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/go-shiori/go-readability"
)

// Readable is the main-content view of a page.
type Readable struct {
	Title  string
	Text   string
	Byline string
}

// Readability runs the readability algorithm over body. It is used when no
// configured selector matched the article body.
func Readability(body []byte, pageURL string) (Readable, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return Readable{}, fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return Readable{}, fmt.Errorf("readability: %w", err)
	}
	return Readable{
		Title:  CollapseWhitespace(article.Title),
		Text:   CollapseWhitespace(article.TextContent),
		Byline: CollapseWhitespace(article.Byline),
	}, nil
}
