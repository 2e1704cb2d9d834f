package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	defaultMaxFetchBytes = 5 << 20 // 5MB
	webUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

var collapseSpace = regexp.MustCompile(`[ \t]+`)

// skipElements are HTML containers whose text is boilerplate, not article
// content.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"iframe":   true,
}

// WebExtractor fetches a URL and extracts the readable article text.
type WebExtractor struct {
	client   *http.Client
	maxBytes int64
}

// NewWebExtractor creates a WebExtractor using the given HTTP client.
func NewWebExtractor(client *http.Client) *WebExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebExtractor{client: client, maxBytes: defaultMaxFetchBytes}
}

// Extract fetches and parses the page at source.
func (e *WebExtractor) Extract(ctx context.Context, source string) (*Result, error) {
	if err := validateURL(source); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrUnreachable, source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrNotFound, source, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUnreachable, source, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing html: %v", ErrUnsupported, err)
	}

	page := parsePage(doc)
	content := normalizeText(page.body)
	if content == "" {
		return nil, fmt.Errorf("%w: no readable content at %s", ErrUnsupported, source)
	}

	title := page.title
	if title == "" {
		title = source
	}

	parsed, _ := url.Parse(source)
	meta := map[string]string{
		"word_count": strconv.Itoa(len(strings.Fields(content))),
	}
	if parsed != nil {
		meta["domain"] = parsed.Hostname()
	}

	return &Result{
		Title:    title,
		Content:  content,
		Author:   page.author,
		Metadata: meta,
	}, nil
}

// validateURL rejects non-HTTP schemes and private or loopback hosts.
func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", ErrUnsupported, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrUnsupported, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsupported)
	}
	if host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" ||
		strings.HasPrefix(host, "192.168.") || strings.HasPrefix(host, "10.") {
		return fmt.Errorf("%w: host %q not allowed", ErrUnsupported, host)
	}
	return nil
}

type parsedPage struct {
	title  string
	author string
	body   string
}

// parsePage walks the DOM collecting visible text and pulling title and
// author from the head.
func parsePage(doc *html.Node) parsedPage {
	var page parsedPage
	var sb strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if page.title == "" {
					page.title = strings.TrimSpace(textOf(n))
				}
				return
			case "meta":
				name := attr(n, "name")
				property := attr(n, "property")
				content := attr(n, "content")
				if page.author == "" && name == "author" {
					page.author = strings.TrimSpace(content)
				}
				if page.title == "" && property == "og:title" {
					page.title = strings.TrimSpace(content)
				}
				return
			case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
				sb.WriteString("\n")
			}
			if skipElements[n.Data] {
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	page.body = sb.String()
	return page
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// normalizeText collapses runs of spaces and blank lines while keeping
// paragraph boundaries, which the chunker splits on.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(collapseSpace.ReplaceAllString(line, " "))
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
