package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
	"github.com/ajiayi-debug/referencesfinder/internal/util"
)

// DownloadResult reports the outcome for one paper. Failures carry a
// reason string instead of aborting the batch.
type DownloadResult struct {
	Paper  Paper
	Path   string
	OK     bool
	Reason string
}

// Downloader fetches candidate papers to a local directory. It respects
// robots.txt and, when a paper only has an HTML landing page, scrapes the
// page for a PDF link.
type Downloader struct {
	dir       string
	userAgent string
	client    *http.Client
	robots    *util.RobotsChecker
	log       *zap.Logger
}

// NewDownloader builds a downloader from configuration.
func NewDownloader(cfg model.SearchConfig, log *zap.Logger) *Downloader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Downloader{
		dir:       cfg.DownloadDir,
		userAgent: cfg.UserAgent,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
		robots: util.NewRobotsChecker(cfg.UserAgent, timeout),
		log:    log,
	}
}

// Download fetches every paper, reporting per-item success or failure.
func (d *Downloader) Download(ctx context.Context, papers []Paper) []DownloadResult {
	results := make([]DownloadResult, 0, len(papers))
	for _, p := range papers {
		res := d.downloadOne(ctx, p)
		if res.OK {
			d.log.Debug("downloaded paper", zap.String("title", p.Title), zap.String("path", res.Path))
		} else {
			d.log.Debug("download failed", zap.String("title", p.Title), zap.String("reason", res.Reason))
		}
		results = append(results, res)
	}
	return results
}

func (d *Downloader) downloadOne(ctx context.Context, p Paper) DownloadResult {
	target := p.PDFURL
	if target == "" && p.AccessURL != "" {
		pdf, err := d.findPDFLink(ctx, p.AccessURL)
		if err != nil {
			return DownloadResult{Paper: p, Reason: fmt.Sprintf("no pdf link: %v", err)}
		}
		target = pdf
	}
	if target == "" {
		return DownloadResult{Paper: p, Reason: "no access url"}
	}

	if allowed, delay, _ := d.robots.CanFetch(ctx, target); !allowed {
		return DownloadResult{Paper: p, Reason: "disallowed by robots.txt"}
	} else if delay > 0 {
		select {
		case <-ctx.Done():
			return DownloadResult{Paper: p, Reason: ctx.Err().Error()}
		case <-time.After(delay):
		}
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return DownloadResult{Paper: p, Reason: fmt.Sprintf("create dir: %v", err)}
	}

	path := filepath.Join(d.dir, safeFileName(p.Title)+".pdf")
	if err := d.fetchToFile(ctx, target, path); err != nil {
		return DownloadResult{Paper: p, Reason: err.Error()}
	}
	return DownloadResult{Paper: p, Path: path, OK: true}
}

// findPDFLink fetches an HTML landing page and returns the first link
// that looks like a PDF.
func (d *Downloader) findPDFLink(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("landing page status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") {
		// The "landing page" is the PDF itself.
		return pageURL, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 2_000_000))
	if err != nil {
		return "", fmt.Errorf("parse landing page: %w", err)
	}

	link := firstPDFLink(doc)
	if link == "" {
		return "", fmt.Errorf("no pdf link on landing page")
	}
	resolved, err := base.Parse(link)
	if err != nil {
		return "", err
	}
	return resolved.String(), nil
}

// firstPDFLink walks the DOM for the first <a href> or citation_pdf_url
// meta tag pointing at a PDF.
func firstPDFLink(n *html.Node) string {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "meta":
			var name, content string
			for _, a := range n.Attr {
				switch a.Key {
				case "name":
					name = a.Val
				case "content":
					content = a.Val
				}
			}
			if name == "citation_pdf_url" && content != "" {
				return content
			}
		case "a":
			for _, a := range n.Attr {
				if a.Key == "href" && looksLikePDF(a.Val) {
					return a.Val
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if link := firstPDFLink(c); link != "" {
			return link
		}
	}
	return ""
}

func looksLikePDF(href string) bool {
	lower := strings.ToLower(href)
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, ".pdf?")
}

func (d *Downloader) fetchToFile(ctx context.Context, rawURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// safeFileName converts a paper title into a filesystem-safe name.
func safeFileName(title string) string {
	name := unsafeFileChars.ReplaceAllString(strings.TrimSpace(title), "_")
	name = strings.Trim(name, "_")
	if len(name) > 120 {
		name = name[:120]
	}
	if name == "" {
		name = "paper"
	}
	return name
}
