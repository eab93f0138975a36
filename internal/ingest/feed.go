package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/metrics"
)

const (
	DefaultFeedBaseURL  = "https://api.twitter.com"
	DefaultFeedCount    = 10
	DefaultFeedInterval = 60 * time.Second
)

// Status is the part of a timeline item that is archived.
type Status struct {
	ID               int64           `json:"id"`
	CreatedAt        string          `json:"created_at"`
	FullText         string          `json:"full_text"`
	DisplayTextRange []int           `json:"display_text_range"`
	User             StatusUser      `json:"user"`
	ExtendedEntities *StatusEntities `json:"extended_entities"`
	RetweetedStatus  json.RawMessage `json:"retweeted_status"`

	raw []byte
}

type StatusUser struct {
	ScreenName      string `json:"screen_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

type StatusEntities struct {
	Media []struct {
		MediaURL string `json:"media_url"`
	} `json:"media"`
}

// parseStatus decodes a timeline item. A retweet is replaced by the
// retweeted status.
func parseStatus(raw []byte) (*Status, error) {
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s.raw = raw
	if len(s.RetweetedStatus) > 0 && string(s.RetweetedStatus) != "null" {
		return parseStatus(s.RetweetedStatus)
	}
	return &s, nil
}

// Text returns the displayed part of the status text.
func (s *Status) Text() string {
	if len(s.DisplayTextRange) != 2 {
		return s.FullText
	}
	runes := []rune(s.FullText)
	start, end := s.DisplayTextRange[0], s.DisplayTextRange[1]
	if start < 0 || end > len(runes) || start > end {
		return s.FullText
	}
	return string(runes[start:end])
}

// Time parses CreatedAt.
func (s *Status) Time() (time.Time, error) {
	return time.Parse(time.RubyDate, s.CreatedAt)
}

// AvatarURL returns the full-size profile image URL, or "".
func (s *Status) AvatarURL() string {
	return strings.Replace(s.User.ProfileImageURL, "_normal", "", 1)
}

// MediaURL returns the URL of the first attached media, or "".
func (s *Status) MediaURL() string {
	if s.ExtendedEntities == nil || len(s.ExtendedEntities.Media) == 0 {
		return ""
	}
	return s.ExtendedEntities.Media[0].MediaURL
}

// FeedClient reads a user timeline with app-only bearer authentication.
// Every request, downloads included, waits on a shared rate limiter.
type FeedClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewFeedClient creates a client for baseURL. requestsPerSecond <= 0 removes
// the rate limit.
func NewFeedClient(baseURL, token string, requestsPerSecond float64, client *http.Client) *FeedClient {
	if baseURL == "" {
		baseURL = DefaultFeedBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &FeedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Timeline returns the newest count statuses of userID, retweets included.
func (c *FeedClient) Timeline(ctx context.Context, userID string, count int) ([]*Status, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("count", fmt.Sprint(count))
	q.Set("include_rts", "true")
	q.Set("tweet_mode", "extended")

	body, err := c.get(ctx, c.baseURL+"/1.1/statuses/user_timeline.json?"+q.Encode(), true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var items []json.RawMessage
	if err := json.NewDecoder(body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding timeline: %w", err)
	}

	statuses := make([]*Status, 0, len(items))
	for _, item := range items {
		s, err := parseStatus(item)
		if err != nil {
			return nil, fmt.Errorf("decoding status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// Open fetches a media URL.
func (c *FeedClient) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return c.get(ctx, rawURL, false)
}

func (c *FeedClient) get(ctx context.Context, rawURL string, auth bool) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("requesting %s: unexpected status %s", req.URL.Path, resp.Status)
	}
	return resp.Body, nil
}

// feedDownloadName derives the download name from a media URL path,
// e.g. http://host/media/abc.jpg becomes media_abc.jpg.
func feedDownloadName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing media url: %w", err)
	}
	name := strings.ReplaceAll(strings.TrimPrefix(u.Path, "/"), "/", "_")
	if name == "" {
		return "", fmt.Errorf("media url %q has no path", rawURL)
	}
	return name, nil
}

// FeedPoller archives new timeline statuses.
type FeedPoller struct {
	client    *FeedClient
	db        bowtie.Database
	downloads *Downloads
	userID    string
	count     int
	logger    bowtie.Logger
}

// NewFeedPoller creates a poller for userID's timeline.
func NewFeedPoller(client *FeedClient, db bowtie.Database, downloads *Downloads, userID string, count int, logger bowtie.Logger) *FeedPoller {
	if count <= 0 {
		count = DefaultFeedCount
	}
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &FeedPoller{client: client, db: db, downloads: downloads, userID: userID, count: count, logger: logger}
}

// PollOnce fetches the timeline and archives statuses not seen before.
// It returns how many entries were added.
func (p *FeedPoller) PollOnce(ctx context.Context) (int, error) {
	statuses, err := p.client.Timeline(ctx, p.userID, p.count)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, s := range statuses {
		ok, err := p.archive(ctx, s)
		if err != nil {
			return added, fmt.Errorf("archiving status %d: %w", s.ID, err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// archive stores one status. Media is downloaded before the store scope is
// opened; the feed record and the entry are written in one transaction.
func (p *FeedPoller) archive(ctx context.Context, s *Status) (bool, error) {
	seen, err := p.db.HasFeedItem(ctx, s.ID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	created, err := s.Time()
	if err != nil {
		return false, fmt.Errorf("parsing created_at: %w", err)
	}

	icon := p.download(ctx, s.AvatarURL())
	photo := p.download(ctx, s.MediaURL())

	entry := &bowtie.Entry{
		Date:        created.Unix(),
		Content:     s.Text(),
		Photo:       photo,
		DisplayName: s.User.ScreenName,
		Icon:        icon,
	}

	err = p.db.WithConnection(ctx, func(ctx context.Context) error {
		// Another poller may have stored it since the check above.
		seen, err := p.db.HasFeedItem(ctx, s.ID)
		if err != nil || seen {
			return err
		}
		if err := p.db.SaveFeedItem(ctx, s.ID, string(s.raw)); err != nil {
			return err
		}
		return p.db.AddEntry(ctx, entry)
	})
	if err != nil {
		return false, err
	}
	if entry.ID == 0 {
		return false, nil
	}

	metrics.EntriesIngested.WithLabelValues("feed").Inc()
	p.logger.Info("archived status", "status", s.ID, "entry", entry.ID, "author", s.User.ScreenName)
	return true, nil
}

// download stores rawURL and returns its download name, or "" on failure.
func (p *FeedPoller) download(ctx context.Context, rawURL string) string {
	if rawURL == "" {
		return ""
	}
	name, err := feedDownloadName(rawURL)
	if err != nil {
		p.logger.Warn("unusable media url", "url", rawURL, "error", err)
		return ""
	}
	err = p.downloads.Ensure(ctx, name, func(ctx context.Context) (io.ReadCloser, error) {
		return p.client.Open(ctx, rawURL)
	})
	if err != nil {
		p.logger.Warn("media download failed", "url", rawURL, "error", err)
		return ""
	}
	return name
}

// FeedService polls the timeline on a fixed interval.
type FeedService struct {
	poller   *FeedPoller
	interval time.Duration
	logger   bowtie.Logger
}

// NewFeedService creates the feed polling service.
func NewFeedService(poller *FeedPoller, interval time.Duration, logger bowtie.Logger) *FeedService {
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &FeedService{poller: poller, interval: interval, logger: logger}
}

// Serve implements suture.Service. The first poll runs immediately.
func (s *FeedService) Serve(ctx context.Context) error {
	for {
		n, err := s.poller.PollOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			s.logger.Error("feed poll failed", "error", err)
		case n > 0:
			s.logger.Info("feed poll archived statuses", "count", n)
		}

		if err := sleep(ctx, s.interval); err != nil {
			return err
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *FeedService) String() string {
	return "feed-poller"
}
