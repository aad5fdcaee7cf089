// pkg/tool/ags/client.go
package ags

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

// Scopes and media types of the Assignment and Grade Services.
const (
	ScopeLineItem         = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeLineItemReadOnly = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"
	ScopeScore            = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	ScopeResultReadOnly   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"

	MediaTypeLineItem  = "application/vnd.ims.lis.v2.lineitem+json"
	MediaTypeLineItems = "application/vnd.ims.lis.v2.lineitemcontainer+json"
	MediaTypeScore     = "application/vnd.ims.lis.v1.score+json"
)

// TimestampFormat is the microsecond ISO 8601 layout used for score timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000000-07:00"

// Activity and grading progress values.
const (
	ActivityInitialized = "Initialized"
	ActivityCompleted   = "Completed"
	GradingNotReady     = "NotReady"
	GradingFullyGraded  = "FullyGraded"
)

type LineItem struct {
	ID             string  `json:"id,omitempty"`
	Label          string  `json:"label"`
	ScoreMaximum   float64 `json:"scoreMaximum"`
	ResourceID     string  `json:"resourceId,omitempty"`
	ResourceLinkID string  `json:"resourceLinkId,omitempty"`
	Tag            string  `json:"tag,omitempty"`
}

// Score is the body POSTed to {lineitem}/scores. Only userId, timestamp and
// the two progress fields are sent for an unscored submission.
type Score struct {
	UserID           string   `json:"userId"`
	ScoreGiven       *float64 `json:"scoreGiven,omitempty"`
	ScoreMaximum     *float64 `json:"scoreMaximum,omitempty"`
	Comment          string   `json:"comment,omitempty"`
	ActivityProgress string   `json:"activityProgress"`
	GradingProgress  string   `json:"gradingProgress"`
	Timestamp        string   `json:"timestamp"`
}

// Client calls the AGS endpoints of one platform. Requests are authorized by
// the platform's signer: a bearer token for LTI 1.3, an OAuth1 body-hash
// header otherwise.
type Client struct {
	Env      *lti.Env
	Platform *lti.Platform
}

func NewClient(env *lti.Env, p *lti.Platform) *Client {
	return &Client{Env: env, Platform: p}
}

func (c *Client) httpClient() *http.Client {
	if c.Env != nil && c.Env.HTTP != nil {
		return c.Env.HTTP
	}
	return http.DefaultClient
}

func (c *Client) now() time.Time {
	if c.Env != nil && c.Env.Now != nil {
		return c.Env.Now()
	}
	return time.Now()
}

func (c *Client) do(ctx context.Context, method, target, contentType, accept string, body []byte, scope string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ags: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if err := c.Platform.Signer(c.Env).SignServiceRequest(ctx, req, body, scope); err != nil {
		return fmt.Errorf("ags: authorize: %w", err)
	}
	res, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("ags: %s %s: %w", method, target, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{Method: method, URL: target, Status: res.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("ags: decode %s: %w", target, err)
	}
	return nil
}

// StatusError is returned for a non-2xx service response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ags: %s %s: %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
}

// ListLineItems GETs the container, filtered by the given query values
// (resource_id, resource_link_id, tag).
func (c *Client) ListLineItems(ctx context.Context, lineItemsURL string, filter map[string]string) ([]LineItem, error) {
	u, err := url.Parse(lineItemsURL)
	if err != nil {
		return nil, fmt.Errorf("ags: line items url: %w", err)
	}
	q := u.Query()
	for k, v := range filter {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var items []LineItem
	if err := c.do(ctx, http.MethodGet, u.String(), "", MediaTypeLineItems, nil, ScopeLineItemReadOnly, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) CreateLineItem(ctx context.Context, lineItemsURL string, item LineItem) (LineItem, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return LineItem{}, fmt.Errorf("ags: encode line item: %w", err)
	}
	var created LineItem
	if err := c.do(ctx, http.MethodPost, lineItemsURL, MediaTypeLineItem, MediaTypeLineItem, body, ScopeLineItem, &created); err != nil {
		return LineItem{}, err
	}
	return created, nil
}

// PostScore submits s to {lineItemURL}/scores, keeping any query string.
// An empty timestamp is set to now.
func (c *Client) PostScore(ctx context.Context, lineItemURL string, s Score) error {
	target, err := scoresURL(lineItemURL)
	if err != nil {
		return err
	}
	if s.Timestamp == "" {
		s.Timestamp = c.now().Format(TimestampFormat)
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("ags: encode score: %w", err)
	}
	return c.do(ctx, http.MethodPost, target, MediaTypeScore, "", body, ScopeScore, nil)
}

func scoresURL(lineItemURL string) (string, error) {
	u, err := url.Parse(lineItemURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("ags: invalid line item url %q", lineItemURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/scores"
	return u.String(), nil
}
