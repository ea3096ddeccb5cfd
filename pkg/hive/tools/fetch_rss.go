package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"sort"
	"strings"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
)

const maxRSSSources = 10

// rssSource is one feed URL plus an optional per-source freshness filter.
type rssSource struct {
	URL         string  `json:"url"`
	MaxAgeHours float64 `json:"max_age_hours"`
}

type fetchRSSInput struct {
	Sources     []rssSource `json:"sources"`
	MaxArticles int         `json:"max_articles"`
}

// article is the tool's normalized output shape, shared across RSS 2.0 and
// Atom sources.
type article struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
	Source    string    `json:"source"`
}

// rss2Document is the subset of RSS 2.0 this tool reads.
type rss2Document struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title   string `xml:"title"`
			Link    string `xml:"link"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// atomDocument is the subset of Atom this tool reads.
type atomDocument struct {
	XMLName xml.Name `xml:"feed"`
	Entries []struct {
		Title   string `xml:"title"`
		Updated string `xml:"updated"`
		Links   []struct {
			Href string `xml:"href,attr"`
			Rel  string `xml:"rel,attr"`
		} `xml:"link"`
	} `xml:"entry"`
}

var rssDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

func parseFeedDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range rssDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FetchRSSTool returns the static fetch_rss tool. It fetches up to 10 feed
// URLs, applies each source's own max-age filter, deduplicates by
// normalized title, sorts newest-first, and caps the result at
// max_articles.
func FetchRSSTool() executor.Tool {
	fetcher := newSafeFetcher()
	return executor.Tool{
		Definition: llm.ToolDefinition{
			Name:        "fetch_rss",
			Description: "Fetch and merge articles from up to 10 RSS/Atom feed URLs.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sources": map[string]any{
						"type":        "array",
						"description": "Feed URLs, each with an optional max_age_hours filter.",
					},
					"max_articles": map[string]any{"type": "integer"},
				},
				"required": []string{"sources"},
			},
		},
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var in fetchRSSInput
			if err := decodeInput(raw, &in); err != nil {
				return nil, err
			}
			if len(in.Sources) == 0 {
				return nil, apperr.New(apperr.Validation, "fetch_rss requires at least one source")
			}
			if len(in.Sources) > maxRSSSources {
				in.Sources = in.Sources[:maxRSSSources]
			}
			maxArticles := in.MaxArticles
			if maxArticles <= 0 {
				maxArticles = 20
			}

			now := time.Now()
			var all []article
			for _, src := range in.Sources {
				arts, err := fetchOneFeed(ctx, fetcher, src)
				if err != nil {
					continue // one bad source should not fail the whole merge
				}
				for _, a := range arts {
					if src.MaxAgeHours > 0 && !a.Published.IsZero() && now.Sub(a.Published) > time.Duration(src.MaxAgeHours*float64(time.Hour)) {
						continue
					}
					all = append(all, a)
				}
			}

			all = dedupeByTitle(all)
			sort.SliceStable(all, func(i, j int) bool { return all[i].Published.After(all[j].Published) })
			if len(all) > maxArticles {
				all = all[:maxArticles]
			}
			return map[string]any{"articles": all, "count": len(all)}, nil
		},
	}
}

func fetchOneFeed(ctx context.Context, fetcher *safeFetcher, src rssSource) ([]article, error) {
	body, _, err := fetcher.get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	var rss rss2Document
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		out := make([]article, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			out = append(out, article{Title: it.Title, Link: it.Link, Published: parseFeedDate(it.PubDate), Source: src.URL})
		}
		return out, nil
	}

	var atom atomDocument
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		out := make([]article, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			link := ""
			for _, l := range e.Links {
				if l.Rel == "" || l.Rel == "alternate" {
					link = l.Href
					break
				}
			}
			out = append(out, article{Title: e.Title, Link: link, Published: parseFeedDate(e.Updated), Source: src.URL})
		}
		return out, nil
	}

	return nil, apperr.New(apperr.Validation, "unrecognized feed format")
}

func dedupeByTitle(in []article) []article {
	seen := make(map[string]bool, len(in))
	out := make([]article, 0, len(in))
	for _, a := range in {
		key := normalizeTitle(a.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func decodeInput(raw map[string]any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "encoding tool input", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return apperr.Wrap(apperr.Validation, "decoding tool input", err)
	}
	return nil
}
