package capabilities

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultMaxChars  = 50000
	// bytesPerChar leaves room for markup around the extracted text.
	bytesPerChar = 16
	minBodyBytes = 1 << 20
)

// WebReader fetches a page and returns its readable text.
type WebReader struct{}

// Descriptor implements plugin.Plugin.
func (WebReader) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    "WebReader",
		Purpose: "Fetch a webpage and extract the main content as clean text",
		Methods: []plugin.MethodDescriptor{{
			Name:              "read",
			Description:       "Downloads the page at the URL and returns its title, excerpt and main text",
			Parameters:        []plugin.ParamSpec{{Name: "url", Type: "string", Description: "The full URL of the page, e.g. https://example.com/article"}},
			ReturnType:        "string",
			ReturnDescription: "The readable content of the page",
			Example:           `WebReader.read("https://example.com/article")`,
		}},
	}
}

// Permissions implements plugin.Plugin.
func (WebReader) Permissions() []plugin.Permission {
	return []plugin.Permission{plugin.PermissionNetwork}
}

// New implements plugin.Plugin.
func (WebReader) New(env *plugin.Env) (plugin.Capability, error) {
	client, ok := plugin.Resource[*http.Client](env, ResourceHTTPClient)
	if !ok || client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxChars := defaultMaxChars
	if raw := env.ConfigString("maxChars", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("WebReader: invalid maxChars %q", raw)
		}
		maxChars = n
	}
	reader := &webReader{
		client:    client,
		userAgent: env.ConfigString("userAgent", defaultUserAgent),
		maxChars:  maxChars,
		policy:    bluemonday.StrictPolicy(),
	}
	return plugin.Methods{"read": reader.read}, nil
}

type webReader struct {
	client    *http.Client
	userAgent string
	maxChars  int
	policy    *bluemonday.Policy
}

func (r *webReader) read(ctx context.Context, args []value.Value) (value.Value, error) {
	if err := plugin.Arity(args, 1, 1); err != nil {
		return value.Null(), err
	}
	raw, _ := plugin.StringArg(args, 0)
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return value.Null(), fmt.Errorf("invalid url %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return value.Null(), fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return value.Null(), fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return value.Null(), fmt.Errorf("failed to fetch url: status code %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, bodyLimit(r.maxChars))
	article, err := readability.FromReader(body, target)
	if err != nil {
		return value.Null(), fmt.Errorf("failed to parse article: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", article.Excerpt)
	}
	b.WriteString("\n-- CONTENT --\n")
	b.WriteString(truncateRunes(r.policy.Sanitize(article.TextContent), r.maxChars))
	return value.String(b.String()), nil
}

// bodyLimit caps how much of a response is read for a page of maxChars.
func bodyLimit(maxChars int) int64 {
	limit := int64(maxChars) * bytesPerChar
	if limit < minBodyBytes {
		return minBodyBytes
	}
	return limit
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "\n... (content truncated) ..."
}
