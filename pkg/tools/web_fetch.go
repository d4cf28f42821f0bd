package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ToolWebFetch is the constant name for the web fetch tool.
const ToolWebFetch = "web_fetch"

const (
	maxFetchBytes  = 100 * 1024
	maxOutputChars = 50000
)

//nolint:gochecknoglobals // compiled once
var (
	titleRe   = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	scriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockRe   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|br|hr)[^>]*>|<br[^>]*>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	blankRe   = regexp.MustCompile(`\n\s*\n+`)
)

// WebFetch fetches a page and returns its readable text.
type WebFetch struct {
	client *http.Client
}

// NewWebFetch creates the tool with a 30s timeout and at most 5 redirects.
func NewWebFetch() *WebFetch {
	return &WebFetch{client: &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}}
}

// Definition implements Tool.
func (t *WebFetch) Definition() Definition {
	return Definition{
		Name:        ToolWebFetch,
		Description: "Fetch a web page and return its title and text content (HTML stripped, 100KB limit).",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"url": {Type: "string", Description: "Full http(s) URL"},
			},
			Required: []string{"url"},
		},
	}
}

// FetchResult is returned to the model as JSON.
type FetchResult struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// Exec implements Tool.
func (t *WebFetch) Exec(ctx context.Context, args map[string]any) (any, error) {
	url, err := stringArg(args, "url", true)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("URL must start with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; agentcore/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !isTextContent(ct) {
		return nil, fmt.Errorf("unsupported content type: %s", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	html := string(body)
	text := extractText(html)
	truncated := len(body) >= maxFetchBytes
	if len(text) > maxOutputChars {
		text = text[:maxOutputChars]
		truncated = true
	}
	return FetchResult{URL: url, Title: extractTitle(html), Content: text, Truncated: truncated}, nil
}

func isTextContent(ct string) bool {
	ct = strings.ToLower(ct)
	return ct == "" ||
		strings.Contains(ct, "text/") ||
		strings.Contains(ct, "application/xhtml") ||
		strings.Contains(ct, "application/xml") ||
		strings.Contains(ct, "application/json")
}

func extractTitle(html string) string {
	if m := titleRe.FindStringSubmatch(html); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func extractText(html string) string {
	html = scriptRe.ReplaceAllString(html, "")
	html = styleRe.ReplaceAllString(html, "")
	html = commentRe.ReplaceAllString(html, "")
	html = blockRe.ReplaceAllString(html, "\n")
	text := tagRe.ReplaceAllString(html, "")
	text = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(text)
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
