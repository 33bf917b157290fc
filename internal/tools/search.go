// ABOUTME: internet_search tool backed by DuckDuckGo's HTML endpoint.
// ABOUTME: Scrapes result links, fetches pages concurrently and returns visible text.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/2389/jacox/internal/cache"
	"github.com/2389/jacox/internal/config"
	"github.com/2389/jacox/internal/llm"
)

const (
	// SearchToolName is the name the model uses to call the search tool.
	SearchToolName = "internet_search"

	// DefaultSearchEndpoint is DuckDuckGo's JavaScript-free results page.
	DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

	defaultMaxResults = 3
	maxPageChars      = 2000
	maxPageBytes      = 2 << 20
	resultSeparator   = "\n\n---\n\n"
	browserUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	noResultsText     = "No results found for that query."
)

// SearchOptions configures a Search tool.
type SearchOptions struct {
	Endpoint   string // defaults to DefaultSearchEndpoint
	MaxResults int    // defaults to 3
	Client     *http.Client
	Cache      *cache.Cache[string] // nil disables caching
	Logger     *slog.Logger
}

// Search implements the internet_search tool.
type Search struct {
	endpoint   string
	maxResults int
	client     *http.Client
	cache      *cache.Cache[string]
	logger     *slog.Logger
}

type searchArguments struct {
	Query string `json:"query"`
}

// NewSearch creates the internet_search tool.
func NewSearch(opts SearchOptions) *Search {
	s := &Search{
		endpoint:   opts.Endpoint,
		maxResults: opts.MaxResults,
		client:     opts.Client,
		cache:      opts.Cache,
		logger:     opts.Logger,
	}
	if s.endpoint == "" {
		s.endpoint = DefaultSearchEndpoint
	}
	if s.maxResults <= 0 {
		s.maxResults = defaultMaxResults
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 15 * time.Second}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("tool", SearchToolName)
	return s
}

// NewBuiltinRegistry returns a registry holding the built-in tools enabled by cfg.
func NewBuiltinRegistry(cfg config.ToolsConfig, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry(logger)
	if cfg.Search.Disabled {
		return reg, nil
	}
	search := NewSearch(SearchOptions{
		MaxResults: cfg.Search.MaxResults,
		Cache:      cache.New[string](cfg.Search.CacheTTL, cfg.Search.CacheSize),
		Logger:     logger,
	})
	if err := reg.Register(search); err != nil {
		return nil, err
	}
	return reg, nil
}

// Definition describes the tool to the model.
func (s *Search) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        SearchToolName,
		Description: "Search the internet for real-time information or specific topics.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query to look up on the web.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// Call runs a search. The result is always text for the model.
func (s *Search) Call(ctx context.Context, arguments string) string {
	var args searchArguments
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return fmt.Sprintf("Error parsing arguments: %v", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "Error parsing arguments: missing field `query`"
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(query); ok {
			s.logger.Debug("search cache hit", "query", query)
			return cached
		}
	}

	s.logger.Info("performing internet search", "query", query)
	links, err := s.resultLinks(ctx, query)
	if err != nil {
		s.logger.Error("failed to fetch search results", "query", query, "error", err)
	}
	if len(links) == 0 {
		return noResultsText
	}

	pages := make([]string, len(links))
	g, gctx := errgroup.WithContext(ctx)
	for i, link := range links {
		g.Go(func() error {
			pages[i] = s.pageContent(gctx, link)
			return nil
		})
	}
	_ = g.Wait()

	out := strings.Join(pages, resultSeparator)
	if s.cache != nil {
		s.cache.Set(query, out)
	}
	return out
}

// Close releases the result cache.
func (s *Search) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return nil
}

func (s *Search) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	return s.client.Do(req)
}

// resultLinks returns up to maxResults external links from the results page.
func (s *Search) resultLinks(ctx context.Context, query string) ([]string, error) {
	resp, err := s.get(ctx, s.endpoint+"?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing results page: %w", err)
	}

	var links []string
	for n := range doc.Descendants() {
		if len(links) >= s.maxResults {
			break
		}
		if n.Type != html.ElementNode || n.Data != "a" || !hasClass(n, "result__a") {
			continue
		}
		href, ok := unwrapResultLink(attr(n, "href"))
		if ok {
			links = append(links, href)
		}
	}
	return links, nil
}

// unwrapResultLink follows DuckDuckGo's /l/?uddg= redirect wrapper and
// rejects internal or relative links.
func unwrapResultLink(href string) (string, bool) {
	if href == "" {
		return "", false
	}
	if i := strings.Index(href, "uddg="); i >= 0 {
		encoded := href[i+len("uddg="):]
		if end := strings.IndexByte(encoded, '&'); end >= 0 {
			encoded = encoded[:end]
		}
		decoded, err := url.QueryUnescape(encoded)
		if err != nil {
			return "", false
		}
		href = decoded
	}
	if strings.Contains(href, "duckduckgo.com") || strings.HasPrefix(href, "/") {
		return "", false
	}
	return href, true
}

// pageContent fetches one page and renders it as a Source block.
func (s *Search) pageContent(ctx context.Context, target string) string {
	s.logger.Debug("scraping page", "url", target)
	resp, err := s.get(ctx, target)
	if err != nil {
		return fmt.Sprintf("Error fetching %s: %v", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("Error fetching %s: Status %d", target, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return fmt.Sprintf("Error fetching %s: %v", target, err)
	}
	return fmt.Sprintf("Source: %s\nContent:\n%s", target, truncateRunes(visibleText(doc), maxPageChars))
}

// visibleText collects text under <body> (or the whole document when there
// is no body), skipping non-rendered elements and collapsing whitespace.
func visibleText(doc *html.Node) string {
	root := doc
	for n := range doc.Descendants() {
		if n.Type == html.ElementNode && n.Data == "body" {
			root = n
			break
		}
	}

	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template", "head", "svg":
				return
			}
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(words, " ")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
