package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/parlor-ai/parlor/internal/tool"
)

const (
	fetchTimeout   = 30 * time.Second
	fetchUserAgent = "parlor/1.0"
	maxPageRunes   = 20000
)

type fetchPageInput struct {
	URL string `json:"url" jsonschema:"description=Absolute http or https URL of the page to read."`
}

// FetchPage downloads a web page and returns its readable text. The
// article extractor strips navigation and boilerplate; when it cannot
// find an article the raw document text is used instead.
func FetchPage(client *http.Client) *tool.Tool {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return tool.New("fetch_page",
		"Fetches a web page and returns its title and readable text content.",
		func(ctx context.Context, in fetchPageInput) (*tool.Result, error) {
			u, err := url.Parse(in.URL)
			if err != nil {
				return nil, fmt.Errorf("parse url: %w", err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", fetchUserAgent)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("fetch %s: status %d", u.Host, resp.StatusCode)
			}

			doc, err := goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("parse page: %w", err)
			}

			title := strings.TrimSpace(doc.Find("title").First().Text())
			body := extractText(doc, u)

			var b strings.Builder
			if title != "" {
				b.WriteString(title)
				b.WriteString("\n\n")
			}
			b.WriteString(truncateRunes(body, maxPageRunes))
			return tool.TextResult(b.String()), nil
		})
}

// extractText prefers the readability article extraction and falls
// back to the document's visible text.
func extractText(doc *goquery.Document, u *url.URL) string {
	html, err := doc.Html()
	if err == nil {
		article, err := readability.FromReader(strings.NewReader(html), u)
		if err == nil && strings.TrimSpace(article.TextContent) != "" {
			return strings.TrimSpace(article.TextContent)
		}
	}

	doc.Find("script, style, noscript, nav, header, footer").Remove()
	return normalizeWhitespace(doc.Find("body").Text())
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "\n[truncated]"
}
