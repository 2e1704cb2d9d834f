package extract

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/watch\?.*v=([a-zA-Z0-9_-]{11})`),
}

// YouTubeExtractor fetches a video's caption track and renders it as a
// transcript. Content carries inline [MM:SS] markers for citations;
// CleanContent drops them for embedding.
type YouTubeExtractor struct {
	client       *http.Client
	timedtextURL string
	oembedURL    string
}

// NewYouTubeExtractor creates a YouTubeExtractor using the given HTTP client.
func NewYouTubeExtractor(client *http.Client) *YouTubeExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &YouTubeExtractor{
		client:       client,
		timedtextURL: "https://www.youtube.com/api/timedtext",
		oembedURL:    "https://www.youtube.com/oembed",
	}
}

// NewYouTubeExtractorWithEndpoints overrides the YouTube endpoints (for testing).
func NewYouTubeExtractorWithEndpoints(client *http.Client, timedtextURL, oembedURL string) *YouTubeExtractor {
	e := NewYouTubeExtractor(client)
	e.timedtextURL = timedtextURL
	e.oembedURL = oembedURL
	return e
}

type timedText struct {
	Texts []struct {
		Start float64 `xml:"start,attr"`
		Body  string  `xml:",chardata"`
	} `xml:"text"`
}

type oembedInfo struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

// Extract resolves the video id from the URL, fetches title and author via
// oembed, and builds the transcript from the English caption track.
func (e *YouTubeExtractor) Extract(ctx context.Context, source string) (*Result, error) {
	videoID := ParseVideoID(source)
	if videoID == "" {
		return nil, fmt.Errorf("%w: not a recognizable youtube url: %s", ErrUnsupported, source)
	}

	info, err := e.fetchOembed(ctx, source)
	if err != nil {
		return nil, err
	}

	transcript, err := e.fetchTranscript(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if len(transcript.Texts) == 0 {
		return nil, fmt.Errorf("%w: no transcript available for video %s", ErrNotFound, videoID)
	}

	var content, clean strings.Builder
	for _, t := range transcript.Texts {
		line := strings.TrimSpace(html.UnescapeString(t.Body))
		if line == "" {
			continue
		}
		fmt.Fprintf(&content, "[%s] %s\n", formatTimestamp(t.Start), line)
		clean.WriteString(line)
		clean.WriteString(" ")
	}

	title := info.Title
	if title == "" {
		title = "YouTube video " + videoID
	}

	return &Result{
		Title:        title,
		Content:      strings.TrimSpace(content.String()),
		CleanContent: strings.TrimSpace(clean.String()),
		Author:       info.AuthorName,
		Metadata: map[string]string{
			"video_id": videoID,
		},
	}, nil
}

func (e *YouTubeExtractor) fetchOembed(ctx context.Context, source string) (oembedInfo, error) {
	u := e.oembedURL + "?format=json&url=" + url.QueryEscape(source)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return oembedInfo{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return oembedInfo{}, fmt.Errorf("%w: fetching video info: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized {
		return oembedInfo{}, fmt.Errorf("%w: video unavailable (status %d)", ErrNotFound, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return oembedInfo{}, fmt.Errorf("%w: video info returned status %d", ErrUnreachable, resp.StatusCode)
	}

	var info oembedInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return oembedInfo{}, fmt.Errorf("%w: decoding video info: %v", ErrUnreachable, err)
	}
	return info, nil
}

func (e *YouTubeExtractor) fetchTranscript(ctx context.Context, videoID string) (timedText, error) {
	u := fmt.Sprintf("%s?lang=en&v=%s", e.timedtextURL, url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return timedText{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return timedText{}, fmt.Errorf("%w: fetching transcript: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return timedText{}, fmt.Errorf("%w: transcript returned status %d", ErrUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return timedText{}, fmt.Errorf("%w: reading transcript: %v", ErrUnreachable, err)
	}
	// An empty body means captions are disabled for this video.
	if len(strings.TrimSpace(string(body))) == 0 {
		return timedText{}, fmt.Errorf("%w: no transcript available for video %s", ErrNotFound, videoID)
	}

	var transcript timedText
	if err := xml.Unmarshal(body, &transcript); err != nil {
		return timedText{}, fmt.Errorf("%w: parsing transcript: %v", ErrUnsupported, err)
	}
	return transcript, nil
}

// ParseVideoID pulls the 11-character video id out of the common YouTube
// URL shapes (watch, youtu.be, embed).
func ParseVideoID(source string) string {
	for _, pattern := range videoIDPatterns {
		if m := pattern.FindStringSubmatch(source); m != nil {
			return m[1]
		}
	}
	parsed, err := url.Parse(source)
	if err != nil {
		return ""
	}
	host := parsed.Hostname()
	if host == "www.youtube.com" || host == "youtube.com" {
		if v := parsed.Query().Get("v"); len(v) == 11 {
			return v
		}
	}
	return ""
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
