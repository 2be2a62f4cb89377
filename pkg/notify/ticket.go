// Package notify delivers importer notifications to the helpdesk and by mail.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TicketRequest opens a helpdesk ticket.
type TicketRequest struct {
	Subject   string
	Body      string
	Requester string // email of the requesting person
	CC        []string
}

// TicketRef identifies a created ticket.
type TicketRef struct {
	ID  int64  `json:"id"`
	Ref string `json:"ref"`
}

// Ticketer is the helpdesk the importer files conflicts with.
type Ticketer interface {
	CreateTicket(ctx context.Context, req TicketRequest) (TicketRef, error)
	AppendMessage(ctx context.Context, id int64, body string) error
}

// HTTPTicketer talks to a Deskpro style REST API.
type HTTPTicketer struct {
	BaseURL string // e.g. https://helpdesk.example.net/api/v2
	Key     string
	Client  *http.Client
}

func NewHTTPTicketer(baseURL, key string, timeout time.Duration) *HTTPTicketer {
	return &HTTPTicketer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     key,
		Client:  &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type person struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type ticketPayload struct {
	Subject string   `json:"subject"`
	Person  person   `json:"person"`
	Message message  `json:"message"`
	CC      []person `json:"cc,omitempty"`
}

type message struct {
	Message string `json:"message"`
	Person  string `json:"person,omitempty"`
	Format  string `json:"format"`
}

func (t *HTTPTicketer) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+"/"+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key "+t.Key)
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s %s: status %d: invalid response", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || env.Status >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: %s", method, path, msg)
	}
	return env.Data, nil
}

func (t *HTTPTicketer) CreateTicket(ctx context.Context, req TicketRequest) (TicketRef, error) {
	payload := ticketPayload{
		Subject: req.Subject,
		Person:  person{Email: req.Requester},
		Message: message{Message: htmlBreaks(req.Body), Format: "html"},
	}
	for _, cc := range req.CC {
		payload.CC = append(payload.CC, person{Email: cc})
	}
	data, err := t.do(ctx, http.MethodPost, "tickets", payload)
	if err != nil {
		return TicketRef{}, err
	}
	var ref TicketRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return TicketRef{}, fmt.Errorf("decode ticket: %w", err)
	}
	return ref, nil
}

// AppendMessage adds a message to an existing ticket and reopens it.
func (t *HTTPTicketer) AppendMessage(ctx context.Context, id int64, body string) error {
	if _, err := t.do(ctx, http.MethodPost, fmt.Sprintf("tickets/%d/messages", id), message{Message: htmlBreaks(body), Format: "html"}); err != nil {
		return err
	}
	_, err := t.do(ctx, http.MethodPut, fmt.Sprintf("tickets/%d", id), map[string]string{"status": "awaiting_agent"})
	return err
}

func htmlBreaks(s string) string {
	return strings.ReplaceAll(s, "\n", "<br />\n")
}

// MockTicket is a ticket held by MockTicketer.
type MockTicket struct {
	TicketRef
	Request  TicketRequest
	Messages []string
}

// MockTicketer keeps tickets in memory.
type MockTicketer struct {
	mu      sync.Mutex
	nextID  int64
	tickets map[int64]*MockTicket
	order   []int64
	Fail    error // returned by every call when set
}

func NewMockTicketer() *MockTicketer {
	return &MockTicketer{tickets: map[int64]*MockTicket{}}
}

func (m *MockTicketer) CreateTicket(_ context.Context, req TicketRequest) (TicketRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return TicketRef{}, m.Fail
	}
	m.nextID++
	ref := TicketRef{ID: m.nextID, Ref: strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])}
	m.tickets[ref.ID] = &MockTicket{TicketRef: ref, Request: req}
	m.order = append(m.order, ref.ID)
	return ref, nil
}

func (m *MockTicketer) AppendMessage(_ context.Context, id int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	t, ok := m.tickets[id]
	if !ok {
		return fmt.Errorf("ticket %d not found", id)
	}
	t.Messages = append(t.Messages, body)
	return nil
}

// Tickets returns copies of all tickets in creation order.
func (m *MockTicketer) Tickets() []MockTicket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockTicket, 0, len(m.order))
	for _, id := range m.order {
		t := *m.tickets[id]
		t.Messages = append([]string(nil), t.Messages...)
		out = append(out, t)
	}
	return out
}
