package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<item><title>First Post</title><link>https://example.com/1</link><pubDate>Mon, 02 Jan 2026 15:04:05 +0000</pubDate></item>
<item><title>first post</title><link>https://example.com/1-dup</link><pubDate>Mon, 02 Jan 2026 16:04:05 +0000</pubDate></item>
<item><title>Second Post</title><link>https://example.com/2</link><pubDate>Tue, 03 Jan 2026 15:04:05 +0000</pubDate></item>
</channel></rss>`

func TestFetchRSSDedupesAndSortsByDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	tool := FetchRSSTool()
	result, err := tool.Handler(context.Background(), map[string]any{
		"sources": []any{map[string]any{"url": srv.URL}},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	out := result.(map[string]any)
	if out["count"].(int) != 2 {
		t.Fatalf("count = %v, want 2 (duplicate title should be merged)", out["count"])
	}
	articles := out["articles"].([]article)
	if articles[0].Title != "Second Post" {
		t.Errorf("articles[0].Title = %q, want newest-first ordering", articles[0].Title)
	}
}

func TestFetchRSSRequiresAtLeastOneSource(t *testing.T) {
	tool := FetchRSSTool()
	_, err := tool.Handler(context.Background(), map[string]any{"sources": []any{}})
	if err == nil {
		t.Fatalf("expected error for empty sources")
	}
}

func TestNormalizeTitleIgnoresCaseAndWhitespace(t *testing.T) {
	if normalizeTitle("  First   Post ") != normalizeTitle("first post") {
		t.Errorf("expected normalized titles to match regardless of case/whitespace")
	}
}
