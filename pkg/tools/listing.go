package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	maxListingBytes  = 5 * 1024 * 1024 // 5MB cap on fetched pages
	listingTimeout   = 30 * time.Second
	defaultBodyChars = 4000
)

var listingPricePattern = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d{2})?`)

// ListingTool fetches a marketplace listing page and extracts the parts an
// arbitrage pass cares about: the page title, currency-tagged prices, and
// the visible text.
type ListingTool struct {
	client *http.Client
}

// NewListingTool creates a listing fetch tool.
func NewListingTool() *ListingTool {
	return &ListingTool{
		client: &http.Client{Timeout: listingTimeout},
	}
}

func (t *ListingTool) Name() string {
	return "listing_fetch"
}

func (t *ListingTool) Description() string {
	return "Fetch a marketplace listing URL and extract its title, detected prices, and visible text"
}

func (t *ListingTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The listing URL to fetch (http or https)",
			},
			"max_chars": map[string]any{
				"type":        "number",
				"description": "Maximum characters of page text to return (default 4000)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *ListingTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	url, err := stringArg(input, "url")
	if err != nil {
		return errorOutput("%v", err), nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return errorOutput("url must start with http:// or https://"), nil
	}
	maxChars, err := numberArg(input, "max_chars", defaultBodyChars)
	if err != nil || maxChars < 1 {
		return errorOutput("max_chars must be a positive number"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errorOutput("invalid url: %v", err), nil
	}
	req.Header.Set("User-Agent", "flip-god/0.1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := t.client.Do(req)
	if err != nil {
		return errorOutput("fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorOutput("fetch returned status %d", resp.StatusCode), nil
	}

	body := io.LimitReader(resp.Body, maxListingBytes)
	contentType := resp.Header.Get("Content-Type")

	var title, text string
	if strings.Contains(contentType, "text/html") || contentType == "" {
		title, text = extractListingText(body)
	} else {
		raw, err := io.ReadAll(body)
		if err != nil {
			return errorOutput("failed to read response: %v", err), nil
		}
		text = string(raw)
	}

	prices := dedupe(listingPricePattern.FindAllString(text, -1), 10)
	if len(text) > int(maxChars) {
		text = text[:int(maxChars)] + "\n[truncated]"
	}

	var sb strings.Builder
	if title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", title)
	}
	if len(prices) > 0 {
		fmt.Fprintf(&sb, "Prices: %s\n", strings.Join(prices, ", "))
	}
	sb.WriteString("---\n")
	sb.WriteString(strings.TrimSpace(text))
	return ToolOutput{Content: sb.String()}, nil
}

// extractListingText walks the HTML token stream collecting visible text and
// the document title. Script, style, and head content is skipped, except the
// title element which is captured separately.
func extractListingText(r io.Reader) (title, text string) {
	tokenizer := html.NewTokenizer(r)
	var sb, titleBuf strings.Builder
	var skip, inTitle int

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(titleBuf.String()), sb.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			switch tag {
			case "script", "style", "noscript", "head":
				skip++
			case "title":
				inTitle++
			}
			if isBlockElement(tag) {
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			switch tag {
			case "script", "style", "noscript", "head":
				if skip > 0 {
					skip--
				}
			case "title":
				if inTitle > 0 {
					inTitle--
				}
			}
		case html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if isBlockElement(string(name)) {
				sb.WriteString("\n")
			}
		case html.TextToken:
			chunk := strings.TrimSpace(string(tokenizer.Text()))
			if chunk == "" {
				continue
			}
			if inTitle > 0 {
				titleBuf.WriteString(chunk)
				continue
			}
			if skip == 0 {
				sb.WriteString(chunk)
				sb.WriteString(" ")
			}
		}
	}
}

// isBlockElement reports whether a tag should break text onto a new line.
func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "tr", "td", "th", "section", "article", "table", "ul", "ol":
		return true
	}
	return false
}

// dedupe removes duplicate strings preserving first-seen order, keeping at
// most limit entries.
func dedupe(values []string, limit int) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, limit)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) >= limit {
			break
		}
	}
	return out
}
