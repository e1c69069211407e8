// Package ledger reads invoice state from the external accounting ledger.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/money"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

var ErrNotConfigured = errors.New("ledger credentials are not configured")

// Invoice is the slice of a ledger invoice the reconciliation engine reads.
type Invoice struct {
	ID         string       `json:"id"`
	Number     string       `json:"number"`
	Status     string       `json:"status"`
	AmountDue  money.Amount `json:"amountDue"`
	AmountPaid money.Amount `json:"amountPaid"`
	UpdatedAt  *time.Time   `json:"updatedAt"`
}

type Client struct {
	baseURL  string
	tenantID string
	http     *http.Client
}

// NewClient builds a client from settings. A static access token wins over the
// refresh-token flow; the oauth2 transport refreshes the latter on expiry.
func NewClient(ctx context.Context, s config.Settings) (*Client, error) {
	if !s.LedgerConfigured() {
		return nil, ErrNotConfigured
	}
	var src oauth2.TokenSource
	if s.LedgerAccessToken != "" {
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.LedgerAccessToken, TokenType: "Bearer"})
	} else {
		conf := &oauth2.Config{
			ClientID:     s.LedgerClientID,
			ClientSecret: s.LedgerClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: s.LedgerTokenURL},
		}
		src = conf.TokenSource(ctx, &oauth2.Token{RefreshToken: s.LedgerRefreshToken})
	}
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = s.LedgerTimeout
	return NewClientWithHTTP(s.LedgerBaseURL, s.LedgerTenantID, httpClient), nil
}

// NewClientWithHTTP wires an already authenticated http client.
func NewClientWithHTTP(baseURL, tenantID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tenantID: tenantID,
		http:     httpClient,
	}
}

type invoiceEnvelope struct {
	Invoices []invoicePayload `json:"Invoices"`
}

type invoicePayload struct {
	InvoiceID      string       `json:"InvoiceID"`
	InvoiceNumber  string       `json:"InvoiceNumber"`
	Status         string       `json:"Status"`
	AmountDue      money.Amount `json:"AmountDue"`
	AmountPaid     money.Amount `json:"AmountPaid"`
	UpdatedDateUTC string       `json:"UpdatedDateUTC"`
}

// GetInvoice fetches one invoice. A 404 is NotFound; every other failure is
// ExternalSystem.
func (c *Client) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	if strings.TrimSpace(id) == "" {
		return nil, utils.Validation("invoice id is required")
	}
	endpoint := c.baseURL + "/Invoices/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, utils.ExternalSystem("build ledger request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tenantID != "" {
		req.Header.Set("xero-tenant-id", c.tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, utils.ExternalSystem("ledger request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return nil, utils.NotFound("invoice not found in ledger")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, utils.ExternalSystem("ledger rejected request",
			fmt.Errorf("ledger api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed invoiceEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, utils.ExternalSystem("decode ledger response", err)
	}
	if len(parsed.Invoices) == 0 {
		return nil, utils.NotFound("invoice not found in ledger")
	}
	p := parsed.Invoices[0]
	return &Invoice{
		ID:         p.InvoiceID,
		Number:     p.InvoiceNumber,
		Status:     strings.ToUpper(strings.TrimSpace(p.Status)),
		AmountDue:  p.AmountDue,
		AmountPaid: p.AmountPaid,
		UpdatedAt:  parseLedgerDate(p.UpdatedDateUTC),
	}, nil
}

var msDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// parseLedgerDate accepts "/Date(1518685950940+0000)/" and RFC 3339.
func parseLedgerDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if m := msDate.FindStringSubmatch(v); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil
		}
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}
