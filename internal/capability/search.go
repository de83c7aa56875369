package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	apperrors "ensemble/internal/errors"
)

const (
	defaultInstantAnswerURL = "https://api.duckduckgo.com/"
	defaultHTMLSearchURL    = "https://html.duckduckgo.com/html/"
	defaultMaxResults       = 5
)

// DuckDuckGo searches the instant-answer API first and falls back to the HTML
// results page when the API has nothing for the query.
type DuckDuckGo struct {
	client        *http.Client
	instantURL    string
	htmlURL       string
	cache         *expirable.LRU[string, []SearchResult]
	userAgent     string
	skipHTMLFetch bool
}

// DuckDuckGoOption customises a DuckDuckGo searcher.
type DuckDuckGoOption func(*DuckDuckGo)

// WithSearchEndpoints overrides both endpoints, mainly for tests.
func WithSearchEndpoints(instantURL, htmlURL string) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		d.instantURL = instantURL
		d.htmlURL = htmlURL
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		d.client = client
	}
}

// WithoutHTMLFallback disables scraping the HTML results page.
func WithoutHTMLFallback() DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		d.skipHTMLFetch = true
	}
}

// NewDuckDuckGo returns a searcher with a small expiring result cache.
func NewDuckDuckGo(opts ...DuckDuckGoOption) *DuckDuckGo {
	d := &DuckDuckGo{
		client:     &http.Client{Timeout: 10 * time.Second},
		instantURL: defaultInstantAnswerURL,
		htmlURL:    defaultHTMLSearchURL,
		cache:      expirable.NewLRU[string, []SearchResult](256, nil, 10*time.Minute),
		userAgent:  "ensemble/0.1",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type instantAnswer struct {
	Heading        string `json:"Heading"`
	Abstract       string `json:"Abstract"`
	AbstractURL    string `json:"AbstractURL"`
	AbstractSource string `json:"AbstractSource"`
	RelatedTopics  []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search returns up to maxResults hits for query.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	cacheKey := fmt.Sprintf("%d|%s", maxResults, query)
	if cached, ok := d.cache.Get(cacheKey); ok {
		return cached, nil
	}

	results, err := d.instant(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && !d.skipHTMLFetch {
		results, err = d.html(ctx, query, maxResults)
		if err != nil {
			return nil, err
		}
	}
	d.cache.Add(cacheKey, results)
	return results, nil
}

func (d *DuckDuckGo) instant(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_redirect", "1")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	body, err := d.get(ctx, d.instantURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var answer instantAnswer
	if err := json.NewDecoder(body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("decode instant answer: %w", err)
	}

	var results []SearchResult
	if answer.Abstract != "" {
		title := answer.Heading
		if title == "" {
			title = "Instant Answer"
		}
		results = append(results, SearchResult{
			Title:   title,
			Snippet: answer.Abstract,
			URL:     answer.AbstractURL,
			Source:  answer.AbstractSource,
		})
	}
	for _, topic := range answer.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.Text == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:   truncate(topic.Text, 100),
			Snippet: topic.Text,
			URL:     topic.FirstURL,
			Source:  "DuckDuckGo",
		})
	}
	return results, nil
}

func (d *DuckDuckGo) html(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	body, err := d.get(ctx, d.htmlURL+"?"+url.Values{"q": {query}}.Encode())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")
		results = append(results, SearchResult{
			Title:   title,
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
			URL:     href,
			Source:  "DuckDuckGo",
		})
		return len(results) < maxResults
	})
	return results, nil
}

func (d *DuckDuckGo) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, apperrors.FromHTTPStatus(resp.StatusCode, string(data))
	}
	return resp.Body, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
