// Package leads is the client for the lead-campaign REST API reached with
// a tenant's secondary API key. Replies are walked with the paginated
// fetcher and collapsed to the latest reply per sender.
package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/inboxfleet/internal/paginate"
	"github.com/teemow/inboxfleet/internal/retry"
)

// DefaultBaseURL is the public API host.
const DefaultBaseURL = "https://api.instantly.ai"

const (
	defaultPageSize = 100
	maxErrorBody    = 4 << 10
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("leads api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("leads api: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets the retry executor classify the failure.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Reply is one inbound reply to a campaign email.
type Reply struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id,omitempty"`
	From       string    `json:"from_address_email"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp_email"`
}

type wireEmail struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp_email"`
	From       string    `json:"from_address_email"`
	Subject    string    `json:"subject"`
	CampaignID string    `json:"campaign_id"`
	Body       struct {
		Text string `json:"text"`
	} `json:"body"`
}

type listResponse struct {
	Items             []wireEmail `json:"items"`
	NextStartingAfter string      `json:"next_starting_after"`
}

// Client calls the leads API for one tenant.
type Client struct {
	baseURL  string
	apiKey   string
	hc       *http.Client
	exec     *retry.Executor
	pageSize int
	maxPages int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithPaging sets the page size and the page limit.
func WithPaging(pageSize, maxPages int) Option {
	return func(c *Client) {
		if pageSize > 0 {
			c.pageSize = pageSize
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
	}
}

// New returns a Client authenticating with apiKey.
func New(apiKey string, exec *retry.Executor, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("leads api key is required")
	}
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		hc:       &http.Client{Timeout: 30 * time.Second},
		exec:     exec,
		pageSize: defaultPageSize,
		maxPages: paginate.DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListReplies returns the latest reply from each sender, most recent
// first. campaignID is optional. A non-zero since drops senders whose
// latest reply is older.
func (c *Client) ListReplies(ctx context.Context, campaignID string, since time.Time) ([]Reply, error) {
	fetch := func(ctx context.Context, cursor string, limit int) (paginate.Page[Reply], error) {
		q := url.Values{}
		q.Set("email_type", "received")
		q.Set("limit", strconv.Itoa(limit))
		if cursor != "" {
			q.Set("starting_after", cursor)
		}
		if campaignID != "" {
			q.Set("campaign_id", campaignID)
		}

		var resp listResponse
		if err := c.get(ctx, "/api/v2/emails", q, &resp); err != nil {
			return paginate.Page[Reply]{}, err
		}
		items := make([]Reply, 0, len(resp.Items))
		for _, e := range resp.Items {
			items = append(items, Reply{
				ID:         e.ID,
				CampaignID: e.CampaignID,
				From:       strings.ToLower(strings.TrimSpace(e.From)),
				Subject:    e.Subject,
				Body:       e.Body.Text,
				Timestamp:  e.Timestamp,
			})
		}
		// next_starting_after is ignored: the API repeats it on the last
		// page, so the cursor is taken from the last item instead.
		return paginate.Page[Reply]{Items: items}, nil
	}

	res, err := paginate.FetchAll(ctx, c.exec, "leads.replies.list", fetch, paginate.Options[Reply]{
		PageSize:   c.pageSize,
		MaxPages:   c.maxPages,
		ID:         func(r Reply) string { return r.ID },
		Cursor:     func(last Reply) string { return last.ID },
		LogicalKey: func(r Reply) string { return r.From },
		Recency:    func(r Reply) time.Time { return r.Timestamp },
	})
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		return res.Items, nil
	}
	out := res.Items[:0]
	for _, r := range res.Items {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(body))
}
