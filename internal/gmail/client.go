package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/inboxfleet/internal/paginate"
	"github.com/teemow/inboxfleet/internal/retry"
)

const (
	userID = "me"

	// maxPageSize is the largest page Gmail accepts for messages.list.
	maxPageSize = 500

	metadataConcurrency = 4
)

// Client wraps the Gmail Users service for one tenant.
type Client struct {
	svc      *gmail.Service
	exec     *retry.Executor
	maxPages int
}

// New creates a Client. hc must carry the tenant's OAuth token.
// Extra options, such as option.WithEndpoint, are passed to the service.
func New(ctx context.Context, hc *http.Client, exec *retry.Executor, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmail.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{svc: svc, exec: exec, maxPages: paginate.DefaultMaxPages}, nil
}

// WithMaxPages bounds how many pages ListMessages walks.
func (c *Client) WithMaxPages(n int) *Client {
	if n > 0 {
		c.maxPages = n
	}
	return c
}

// ListOptions selects messages.
type ListOptions struct {
	// Query uses Gmail search syntax, for example "in:inbox is:unread".
	Query    string
	LabelIDs []string
	// MaxResults caps the number of messages returned. Zero means 100.
	MaxResults int
}

// MessageSummary is the metadata of one message.
type MessageSummary struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"threadId"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Snippet  string    `json:"snippet"`
	Date     time.Time `json:"date"`
	Labels   []string  `json:"labels,omitempty"`
}

// Message is a message with its decoded plain text body.
type Message struct {
	MessageSummary
	Body string `json:"body"`
}

// ListMessages lists messages matching opts, newest first, with their
// metadata.
func (c *Client) ListMessages(ctx context.Context, opts ListOptions) ([]MessageSummary, error) {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = 100
	}

	fetch := func(ctx context.Context, cursor string, pageSize int) (paginate.Page[*gmail.Message], error) {
		call := c.svc.Users.Messages.List(userID).MaxResults(int64(pageSize)).Context(ctx)
		if opts.Query != "" {
			call = call.Q(opts.Query)
		}
		if len(opts.LabelIDs) > 0 {
			call = call.LabelIds(opts.LabelIDs...)
		}
		if cursor != "" {
			call = call.PageToken(cursor)
		}
		resp, err := call.Do()
		if err != nil {
			return paginate.Page[*gmail.Message]{}, err
		}
		return paginate.Page[*gmail.Message]{Items: resp.Messages, Next: resp.NextPageToken}, nil
	}

	maxPages := c.maxPages
	if pages := (limit + maxPageSize - 1) / maxPageSize; pages < maxPages {
		maxPages = pages
	}
	res, err := paginate.FetchAll(ctx, c.exec, "gmail.messages.list", fetch, paginate.Options[*gmail.Message]{
		PageSize: min(limit, maxPageSize),
		MaxPages: maxPages,
		ID:       func(m *gmail.Message) string { return m.Id },
	})
	if err != nil {
		return nil, err
	}

	refs := res.Items
	if len(refs) > limit {
		refs = refs[:limit]
	}

	out := make([]MessageSummary, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			msg, err := retry.Do(gctx, c.exec, "gmail.messages.get", func(ctx context.Context) (*gmail.Message, error) {
				return c.svc.Users.Messages.Get(userID, ref.Id).
					Format("metadata").
					MetadataHeaders("From", "To", "Subject", "Date").
					Context(ctx).
					Do()
			})
			if err != nil {
				return err
			}
			out[i] = toSummary(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessage fetches one message with its plain text body.
func (c *Client) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := retry.Do(ctx, c.exec, "gmail.messages.get", func(ctx context.Context) (*gmail.Message, error) {
		return c.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	body, err := textBody(msg)
	if err != nil {
		return nil, err
	}
	return &Message{MessageSummary: toSummary(msg), Body: body}, nil
}

// Profile summarises the tenant's mailbox.
type Profile struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
}

// GetProfile fetches the mailbox profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	p, err := retry.Do(ctx, c.exec, "gmail.users.get_profile", func(ctx context.Context) (*gmail.Profile, error) {
		return c.svc.Users.GetProfile(userID).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	return &Profile{EmailAddress: p.EmailAddress, MessagesTotal: p.MessagesTotal, ThreadsTotal: p.ThreadsTotal}, nil
}

// EmailMessage is an outgoing message.
type EmailMessage struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
	IsHTML  bool
}

// SendMessage sends msg from the tenant's mailbox and returns the new
// message id.
func (c *Client) SendMessage(ctx context.Context, msg EmailMessage) (string, error) {
	raw, err := buildRaw(msg)
	if err != nil {
		return "", err
	}
	sent, err := retry.Do(ctx, c.exec, "gmail.messages.send", func(ctx context.Context) (*gmail.Message, error) {
		return c.svc.Users.Messages.Send(userID, &gmail.Message{Raw: raw}).Context(ctx).Do()
	})
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}

func buildRaw(msg EmailMessage) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}
	if msg.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if msg.Body == "" {
		return "", fmt.Errorf("body is required")
	}

	var b strings.Builder
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(msg.Cc, ", ") + "\r\n")
	}
	b.WriteString("Subject: " + mime.BEncoding.Encode("UTF-8", msg.Subject) + "\r\n")
	if msg.IsHTML {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n\r\n")
	b.WriteString(msg.Body)

	return base64.URLEncoding.EncodeToString([]byte(b.String())), nil
}
