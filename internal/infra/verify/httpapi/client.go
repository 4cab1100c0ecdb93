package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gatescan/internal/domain/session"
	"gatescan/internal/domain/ticket"
	"gatescan/internal/domain/verify"
)

// Client talks to the remote verification backend. One request per call, no
// retries; transport failures map to verify.ErrUnreachable and unparseable
// bodies to verify.ErrBadResponse so the workflow can synthesize the right
// operator-facing message.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type loginResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Token     string          `json:"token"`
	Moderator json.RawMessage `json:"moderator"`
	Data      json.RawMessage `json:"data"`
	User      json.RawMessage `json:"user"`
}

// moderatorWire tolerates the backend's two identifier spellings.
type moderatorWire struct {
	MongoID string `json:"_id"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

func (c *Client) Login(ctx context.Context, email, password string) (*session.Session, error) {
	body := map[string]string{"email": email, "password": password}

	var resp loginResponse
	if err := c.postJSON(ctx, "/moderator/login", "", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "login failed"
		}
		return nil, errors.New(msg)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: no authentication token in login response", verify.ErrBadResponse)
	}

	raw := resp.Moderator
	if len(raw) == 0 {
		raw = resp.Data
	}
	if len(raw) == 0 {
		raw = resp.User
	}
	var mw moderatorWire
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &mw); err != nil {
			return nil, fmt.Errorf("%w: %v", verify.ErrBadResponse, err)
		}
	}
	mod := session.Moderator{ID: mw.ID, Name: mw.Name, Email: mw.Email}
	if mod.ID == "" {
		mod.ID = mw.MongoID
	}

	return &session.Session{Token: resp.Token, Moderator: mod}, nil
}

type outcomeWire struct {
	Status  string                     `json:"status"`
	Message string                     `json:"message"`
	Detail  *ticket.VerificationDetail `json:"verificationResult"`
}

func (c *Client) Verify(ctx context.Context, sess *session.Session, code ticket.Code) (*ticket.Outcome, error) {
	body := map[string]string{
		"ticketCode":  string(code),
		"moderatorId": sess.Moderator.ID,
	}

	var resp outcomeWire
	if err := c.postJSON(ctx, "/moderator/scan-ticket", sess.Token, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, fmt.Errorf("%w: missing status field", verify.ErrBadResponse)
	}
	return &ticket.Outcome{
		Status:  ticket.Status(resp.Status),
		Message: resp.Message,
		Detail:  resp.Detail,
	}, nil
}

func (c *Client) TodayStats(ctx context.Context, sess *session.Session) (ticket.Stats, error) {
	var resp struct {
		Stats ticket.Stats `json:"stats"`
	}
	if err := c.getJSON(ctx, "/moderator/stats/"+sess.Moderator.ID, sess.Token, &resp); err != nil {
		return ticket.Stats{}, err
	}
	return resp.Stats, nil
}

type recentScanWire struct {
	TicketCode string                     `json:"ticketCode"`
	Status     string                     `json:"status"`
	Message    string                     `json:"message"`
	Detail     *ticket.VerificationDetail `json:"verificationResult"`
	ScanTime   time.Time                  `json:"scanTime"`
	CreatedAt  time.Time                  `json:"createdAt"`
}

func (c *Client) RecentScans(ctx context.Context, sess *session.Session) ([]ticket.HistoryEntry, error) {
	var resp struct {
		RecentScans []recentScanWire `json:"recentScans"`
	}
	if err := c.getJSON(ctx, "/moderator/recent/"+sess.Moderator.ID, sess.Token, &resp); err != nil {
		return nil, err
	}

	entries := make([]ticket.HistoryEntry, 0, len(resp.RecentScans))
	for _, s := range resp.RecentScans {
		msg := s.Message
		if msg == "" {
			msg = "Ticket " + s.Status
		}
		at := s.ScanTime
		if at.IsZero() {
			at = s.CreatedAt
		}
		entries = append(entries, ticket.HistoryEntry{
			ModeratorID: sess.Moderator.ID,
			Code:        ticket.Code(s.TicketCode),
			Outcome: ticket.Outcome{
				Status:  ticket.Status(s.Status),
				Message: msg,
				Detail:  s.Detail,
			},
			SubmittedAt: at,
		})
	}
	return entries, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

// do executes one request and decodes the body regardless of status code:
// the backend reports used/invalid tickets with non-2xx statuses and a
// perfectly good JSON body.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", verify.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", verify.ErrUnreachable, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: status %d: %v", verify.ErrBadResponse, resp.StatusCode, err)
	}
	return nil
}
