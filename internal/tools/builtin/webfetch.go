package builtin

import (
	"context"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"foreman/internal/agent/ports"
	"foreman/internal/logging"
)

const (
	webFetchMaxBodyBytes    = 2 << 20
	webFetchMaxContentBytes = 15000
	webFetchCacheEntries    = 256
	webFetchCacheTTL        = 15 * time.Minute
)

// WebFetchConfig configures the web fetch adapter.
type WebFetchConfig struct {
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Logger     logging.Logger
}

// webFetch retrieves a URL and extracts readable text. Pages are cached with
// a TTL so repeated explorer lookups stay cheap.
type webFetch struct {
	client *http.Client
	cache  *expirable.LRU[string, string]
	logger logging.Logger
}

// NewWebFetch builds the web fetch adapter.
func NewWebFetch(cfg WebFetchConfig) ports.Tool {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = webFetchCacheTTL
	}
	return &webFetch{
		client: client,
		cache:  expirable.NewLRU[string, string](webFetchCacheEntries, nil, ttl),
		logger: logging.OrNop(cfg.Logger),
	}
}

func (t *webFetch) Execute(ctx context.Context, req ports.ToolCallRequest) ports.ToolExecutionResult {
	rawURL := req.StringInput("url")
	if rawURL == "" {
		return failure("missing 'url'")
	}

	parsed, err := neturl.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return failure("invalid url %q", rawURL)
	}

	if cached, ok := t.cache.Get(rawURL); ok {
		return successMeta(cached, map[string]any{"url": rawURL, "cached": true})
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failure("%v", err)
	}
	httpReq.Header.Set("User-Agent", "foreman-explorer/1.0")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return failure("fetch %s: %v", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBodyBytes))
	if err != nil {
		return failure("read %s: %v", rawURL, err)
	}

	content, err := extractReadableText(string(body))
	if err != nil {
		return failure("parse %s: %v", rawURL, err)
	}

	t.cache.Add(rawURL, content)
	t.logger.Debug("fetched %s (%d bytes extracted)", rawURL, len(content))

	return successMeta(content, map[string]any{
		"url":    resp.Request.URL.String(),
		"cached": false,
	})
}

// extractReadableText converts HTML to clean markdown-like text: noise
// elements removed, then title, headings, paragraphs, and list items.
func extractReadableText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()

	var content strings.Builder

	if title := strings.TrimSpace(doc.Find("title").Text()); title != "" {
		content.WriteString("# " + title + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			level := int(s.Get(0).Data[1] - '0')
			content.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
		}
	})

	doc.Find("p, article, section").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); len(text) > 30 {
			content.WriteString(text + "\n\n")
		}
	})

	doc.Find("ul, ol").Each(func(i int, s *goquery.Selection) {
		s.Find("li").Each(func(j int, li *goquery.Selection) {
			if text := strings.TrimSpace(li.Text()); text != "" {
				content.WriteString("- " + text + "\n")
			}
		})
		content.WriteString("\n")
	})

	result := content.String()
	if len(result) > webFetchMaxContentBytes {
		result = result[:webFetchMaxContentBytes] + "\n\n[content truncated]"
	}
	return result, nil
}

func (t *webFetch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "web_fetch",
		Description: "Fetch a web page and extract its readable text",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"url": {Type: "string", Description: "HTTP or HTTPS URL"},
			},
			Required: []string{"url"},
		},
	}
}

func (t *webFetch) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "web_fetch", Version: "1.0.0", Category: "web",
	}
}
