// Package client talks to the payments HTTP API on behalf of the CLI.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls /api/v1 with an admin bearer token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// New creates a Client for the service at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.baseURL+"/api/v1"+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetStatus returns the record and request behind memo.
func (c *Client) GetStatus(memo string) (*PaymentStatus, error) {
	var status PaymentStatus
	if err := c.do(http.MethodGet, "/payments/"+url.PathEscape(memo), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Reconcile forces one scanner pass.
func (c *Client) Reconcile() (*TickReport, error) {
	var report TickReport
	if err := c.do(http.MethodPost, "/admin/reconcile", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListReview returns one page of review items. An empty status lists
// pending items; "all" lists every item.
func (c *Client) ListReview(status string, page, limit int) (*ReviewPage, error) {
	var out ReviewPage
	if err := c.do(http.MethodGet, "/admin/review?"+listQuery(status, page, limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveReview approves or rejects a review item.
func (c *Client) ResolveReview(id int64, resolution, note string) (*ReviewItem, error) {
	var item ReviewItem
	body := map[string]string{"resolution": resolution, "note": note}
	if err := c.do(http.MethodPost, fmt.Sprintf("/admin/review/%d/resolve", id), body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListUntracked returns one page of untracked payments.
func (c *Client) ListUntracked(status string, page, limit int) (*UntrackedPage, error) {
	var out UntrackedPage
	if err := c.do(http.MethodGet, "/admin/untracked?"+listQuery(status, page, limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveUntracked closes an untracked payment.
func (c *Client) ResolveUntracked(id int64, note string) (*UntrackedPayment, error) {
	var p UntrackedPayment
	body := map[string]string{"note": note}
	if err := c.do(http.MethodPost, fmt.Sprintf("/admin/untracked/%d/resolve", id), body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Refund marks a confirmed payment refunded.
func (c *Client) Refund(memo, note string) (*Record, error) {
	var rec Record
	body := map[string]string{"note": note}
	if err := c.do(http.MethodPost, "/admin/payments/"+url.PathEscape(memo)+"/refund", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AuditTrail returns every audit entry for memo.
func (c *Client) AuditTrail(memo string) ([]*AuditEntry, error) {
	var out struct {
		Entries []*AuditEntry `json:"entries"`
	}
	if err := c.do(http.MethodGet, "/admin/payments/"+url.PathEscape(memo)+"/audit", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// SearchAudit runs a free-text dispute search.
func (c *Client) SearchAudit(query string, size int) ([]*AuditEntry, error) {
	q := url.Values{}
	q.Set("q", query)
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	var out struct {
		Entries []*AuditEntry `json:"entries"`
	}
	if err := c.do(http.MethodGet, "/admin/audit/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func listQuery(status string, page, limit int) string {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q.Encode()
}
