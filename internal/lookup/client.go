// Package lookup provides the Zendesk contact-directory client.
//
// Lookups search for the user carrying a case reference in a custom field,
// classify the first match into a closed set of outcomes, and can create a
// follow-up ticket. Ticket creation is gated on completeness: a ticket is
// only created when every required contact field is present.
package lookup

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no lookup backend is configured.
var ErrNotConfigured = errors.New("lookup backend not configured")

// Kind classifies a lookup outcome.
type Kind int

const (
	// KindNotFound means no matching contact exists.
	KindNotFound Kind = iota
	// KindFound means a contact exists with all required fields present.
	KindFound
	// KindIncomplete means a contact exists but lacks data required for
	// ticket creation.
	KindIncomplete
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindFound:
		return "found"
	case KindIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of a lookup.
type Result struct {
	Kind Kind `json:"kind"`

	// Contact data, set for Found and Incomplete.
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	ContactID  int64  `json:"contact_id,omitempty"`
	ContactURL string `json:"contact_url,omitempty"`

	// Missing lists the human-readable labels of the required fields the
	// contact lacks. Non-empty only for Incomplete.
	Missing []string `json:"missing,omitempty"`

	// Ticket data, set only when a ticket was created.
	TicketID  int64  `json:"ticket_id,omitempty"`
	TicketURL string `json:"ticket_url,omitempty"`
}

// Human-readable labels for the required contact fields.
const (
	LabelEmail     = "E-Mail"
	LabelAddress   = "Adresse"
	LabelBirthDate = "Geburtsdatum"
)

// Custom user fields the directory stores per contact.
const (
	userFieldAddress   = "address"
	userFieldBirthDate = "geburtsdatum"
)

// Config holds the connection settings for the directory.
type Config struct {
	// Subdomain is the Zendesk subdomain ({subdomain}.zendesk.com).
	Subdomain string
	// Email and APIToken authenticate as {email}/token:{token}.
	Email    string
	APIToken string
	// FieldKey is the custom user field holding the case reference.
	// Defaults to "aktenzeichen".
	FieldKey string
	// BaseURL overrides the URL derived from Subdomain. Useful for
	// proxies and for tests against a local server.
	BaseURL string
}

// Client looks up contacts and creates follow-up tickets.
// It never writes to the row store; callers own the write-back.
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
}

// New creates a lookup client. Returns ErrNotConfigured when the subdomain
// or credentials are missing so callers can degrade instead of crashing.
func New(config Config) (*Client, error) {
	if config.Subdomain == "" || config.Email == "" || config.APIToken == "" {
		return nil, ErrNotConfigured
	}
	if config.FieldKey == "" {
		config.FieldKey = "aktenzeichen"
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.zendesk.com", config.Subdomain)
	}
	return &Client{
		config:     config,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Lookup searches the directory for the given case reference and classifies
// the first matching contact. An empty case reference yields NotFound
// without a network call.
func (c *Client) Lookup(ctx context.Context, caseRef string) (Result, error) {
	caseRef = strings.TrimSpace(caseRef)
	if caseRef == "" {
		return Result{Kind: KindNotFound}, nil
	}

	user, ok, err := c.searchUser(ctx, caseRef)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Kind: KindNotFound}, nil
	}

	return c.classify(user), nil
}

// LookupAndCreateTicket performs the same classification as Lookup and
// creates a follow-up ticket when, and only when, the contact is complete.
// Requesting a ticket for an Incomplete or NotFound result is a no-op that
// still returns the classification, so the call is safe to issue
// speculatively.
func (c *Client) LookupAndCreateTicket(ctx context.Context, caseRef string) (Result, error) {
	result, err := c.Lookup(ctx, caseRef)
	if err != nil {
		return Result{}, err
	}
	if result.Kind != KindFound {
		return result, nil
	}

	ticketID, ticketURL, err := c.createTicket(ctx, result.ContactID, caseRef)
	if err != nil {
		return result, fmt.Errorf("failed to create ticket for %s: %w", caseRef, err)
	}
	result.TicketID = ticketID
	result.TicketURL = ticketURL
	return result, nil
}

// directoryUser is the wire shape of a directory contact. Custom user
// fields can hold any JSON scalar (text fields are strings, but numeric,
// checkbox and unset fields arrive as numbers, booleans or null), so they
// are decoded loosely and coerced on read.
type directoryUser struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Phone      string         `json:"phone"`
	UserFields map[string]any `json:"user_fields"`
}

// userField returns the named custom field as a string. Null and absent
// fields are empty; other scalars keep their JSON text form.
func (u directoryUser) userField(key string) string {
	switch v := u.UserFields[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// searchUser queries the directory and returns the first matching contact.
// Ties are broken by first result returned; there is no secondary sort.
func (c *Client) searchUser(ctx context.Context, caseRef string) (directoryUser, bool, error) {
	query := fmt.Sprintf("type:user %s:%s", c.config.FieldKey, caseRef)
	endpoint := fmt.Sprintf("%s/api/v2/search.json?query=%s", c.baseURL, url.QueryEscape(query))

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return directoryUser{}, false, err
	}

	var payload struct {
		Results []directoryUser `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return directoryUser{}, false, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(payload.Results) == 0 {
		return directoryUser{}, false, nil
	}
	return payload.Results[0], true, nil
}

// classify applies the completeness rule to a contact: email, postal
// address and date of birth must all be present for Found.
func (c *Client) classify(user directoryUser) Result {
	result := Result{
		Name:       user.Name,
		Email:      user.Email,
		Phone:      user.Phone,
		ContactID:  user.ID,
		ContactURL: fmt.Sprintf("%s/agent/users/%d", c.baseURL, user.ID),
	}

	var missing []string
	if strings.TrimSpace(user.Email) == "" {
		missing = append(missing, LabelEmail)
	}
	if strings.TrimSpace(user.userField(userFieldAddress)) == "" {
		missing = append(missing, LabelAddress)
	}
	if strings.TrimSpace(user.userField(userFieldBirthDate)) == "" {
		missing = append(missing, LabelBirthDate)
	}

	if len(missing) > 0 {
		result.Kind = KindIncomplete
		result.Missing = missing
		return result
	}

	result.Kind = KindFound
	return result
}

// createTicket opens a follow-up ticket for the contact.
func (c *Client) createTicket(ctx context.Context, requesterID int64, caseRef string) (int64, string, error) {
	payload := map[string]any{
		"ticket": map[string]any{
			"subject":      fmt.Sprintf("Portal-Migration %s", caseRef),
			"comment":      map[string]string{"body": fmt.Sprintf("Portal-Zugang für Aktenzeichen %s anlegen.", caseRef)},
			"requester_id": requesterID,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode ticket: %w", err)
	}

	endpoint := c.baseURL + "/api/v2/tickets.json"
	respBody, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return 0, "", err
	}

	var resp struct {
		Ticket struct {
			ID int64 `json:"id"`
		} `json:"ticket"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, "", fmt.Errorf("failed to decode ticket response: %w", err)
	}

	ticketURL := fmt.Sprintf("%s/agent/tickets/%d", c.baseURL, resp.Ticket.ID)
	return resp.Ticket.ID, ticketURL, nil
}

// do performs one authenticated request and returns the response body.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString(
		[]byte(fmt.Sprintf("%s/token:%s", c.config.Email, c.config.APIToken)))
	req.Header.Set("Authorization", "Basic "+auth)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}
