// Package search finds and downloads candidate reference papers. The
// pipeline treats it as an external collaborator: queries in, paper
// metadata and local files out.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/util"
)

// Paper is one candidate reference from the search backend.
type Paper struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	DOI       string `json:"doi,omitempty"`
	AccessURL string `json:"access_url,omitempty"` // Landing page or direct PDF
	PDFURL    string `json:"pdf_url,omitempty"`    // Direct PDF when the backend knows it
}

// Searcher queries a works index for candidate papers.
type Searcher interface {
	Search(ctx context.Context, query string, excludeTitles []string) ([]Paper, error)
}

// OpenAlexSearcher queries the OpenAlex works endpoint.
type OpenAlexSearcher struct {
	endpoint   string
	mailto     string
	maxResults int
	userAgent  string
	client     *http.Client
}

// NewOpenAlexSearcher builds a searcher from configuration.
func NewOpenAlexSearcher(cfg model.SearchConfig) *OpenAlexSearcher {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAlexSearcher{
		endpoint:   cfg.Endpoint,
		mailto:     cfg.Mailto,
		maxResults: maxResults,
		userAgent:  cfg.UserAgent,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
			},
		},
	}
}

// openAlexResponse mirrors the slice of the works schema we consume.
type openAlexResponse struct {
	Results []struct {
		ID              string `json:"id"`
		Title           string `json:"title"`
		PublicationYear int    `json:"publication_year"`
		DOI             string `json:"doi"`
		OpenAccess      struct {
			OAURL string `json:"oa_url"`
		} `json:"open_access"`
		PrimaryLocation struct {
			LandingPageURL string `json:"landing_page_url"`
			PDFURL         string `json:"pdf_url"`
		} `json:"primary_location"`
	} `json:"results"`
}

// Search queries the works index and filters out papers whose titles are
// already in the excluded list (case-insensitive).
func (s *OpenAlexSearcher) Search(ctx context.Context, query string, excludeTitles []string) ([]Paper, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}

	params := url.Values{
		"search":   {query},
		"per_page": {fmt.Sprintf("%d", s.maxResults)},
	}
	if s.mailto != "" {
		params.Set("mailto", s.mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var decoded openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	excluded := make(map[string]bool, len(excludeTitles))
	for _, t := range excludeTitles {
		excluded[normalizeTitle(t)] = true
	}

	var papers []Paper
	for _, r := range decoded.Results {
		if r.Title == "" || excluded[normalizeTitle(r.Title)] {
			continue
		}
		access := r.OpenAccess.OAURL
		if access == "" {
			access = r.PrimaryLocation.LandingPageURL
		}
		papers = append(papers, Paper{
			ID:        r.ID,
			Title:     r.Title,
			Year:      r.PublicationYear,
			DOI:       r.DOI,
			AccessURL: access,
			PDFURL:    r.PrimaryLocation.PDFURL,
		})
	}
	return papers, nil
}

func normalizeTitle(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
