package capability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchUsesInstantAnswerAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{"Heading":"Go","Abstract":"Go is a language.","AbstractURL":"https://go.dev","AbstractSource":"Wikipedia",
			"RelatedTopics":[{"Text":"Gopher mascot","FirstURL":"https://go.dev/gopher"},{"Name":"group"},{"Text":"Go modules","FirstURL":"https://go.dev/ref/mod"}]}`)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(WithSearchEndpoints(srv.URL, srv.URL+"/html"))
	results, err := d.Search(context.Background(), "golang", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Go", results[0].Title)
	assert.Equal(t, "Wikipedia", results[0].Source)
	assert.Equal(t, "https://go.dev/gopher", results[1].URL)

	_, err = d.Search(context.Background(), "golang", 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSearchFallsBackToHTML(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Abstract":"","RelatedTopics":[]}`)
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="result"><a class="result__a" href="https://a.example">First hit</a><a class="result__snippet">alpha</a></div>
			<div class="result"><a class="result__a" href="https://b.example">Second hit</a><a class="result__snippet">beta</a></div>
			<div class="result"><a class="result__a" href="https://c.example">Third hit</a></div>
		</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDuckDuckGo(WithSearchEndpoints(srv.URL+"/api", srv.URL+"/html"))
	results, err := d.Search(context.Background(), "obscure", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{Title: "First hit", Snippet: "alpha", URL: "https://a.example", Source: "DuckDuckGo"}, results[0])
	assert.Equal(t, "Second hit", results[1].Title)
}

func TestSearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(WithSearchEndpoints(srv.URL, srv.URL))
	_, err := d.Search(context.Background(), "anything", 3)
	assert.ErrorContains(t, err, "status 429")

	_, err = d.Search(context.Background(), "  ", 3)
	assert.Error(t, err)
}
