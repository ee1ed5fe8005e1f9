// Package sheets implements the comment sheet store: a Google Sheets tab
// with two columns, Comments and Used. Row 1 is the header; data rows hold
// one comment each, with the literal "Used" in column B once consumed.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2/google"

	"github.com/soundlift/promo-monitor/internal/config"
	"github.com/soundlift/promo-monitor/internal/pkg/httpretry"
)

// UsedMarker is the literal written to the Used column for consumed rows.
const UsedMarker = "Used"

const spreadsheetScope = "https://www.googleapis.com/auth/spreadsheets"

// Row is one data row of a comment sheet.
type Row struct {
	Text string
	Used bool
}

// Client reads and updates comment sheets through the Sheets v4 values API.
type Client struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a sheets client authenticated with a service account
// credentials file.
func NewClient(cfg config.SheetsConfig) (*Client, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading sheets credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(data, spreadsheetScope)
	if err != nil {
		return nil, fmt.Errorf("parsing sheets credentials: %w", err)
	}

	oauthClient := jwtCfg.Client(context.Background())
	oauthClient.Timeout = cfg.Timeout()

	return newClient(cfg.BaseURL, httpretry.NewRetryClient(oauthClient, 3)), nil
}

// newClient wires a client to an arbitrary HTTP doer; tests use it to skip
// the service-account handshake.
func newClient(baseURL string, doer httpretry.HTTPDoer) *Client {
	return &Client{baseURL: baseURL, httpClient: doer}
}

// splitRef parses a sheet reference of the form "spreadsheetID" or
// "spreadsheetID#TabName". The tab defaults to Sheet1.
func splitRef(ref string) (spreadsheetID, tab string) {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, "Sheet1"
}

// ReadRows returns every data row of the sheet, in sheet order. The header
// row is not included.
func (c *Client) ReadRows(ctx context.Context, ref string) ([]Row, error) {
	id, tab := splitRef(ref)
	rng := url.PathEscape(fmt.Sprintf("%s!A:B", tab))
	fullURL := fmt.Sprintf("%s/spreadsheets/%s/values/%s", c.baseURL, url.PathEscape(id), rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// Cells come back as strings, numbers, or booleans depending on the
	// sheet's formatting, so decode loosely and stringify per cell.
	var parsed struct {
		Values [][]any `json:"values"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing values response: %w", err)
	}
	if len(parsed.Values) <= 1 {
		return nil, nil
	}

	rows := make([]Row, 0, len(parsed.Values)-1)
	for _, raw := range parsed.Values[1:] {
		var row Row
		if len(raw) > 0 {
			row.Text = strings.TrimSpace(cellString(raw[0]))
		}
		if len(raw) > 1 {
			row.Used = strings.TrimSpace(cellString(raw[1])) == UsedMarker
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cellString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case json.Number:
		return c.String()
	case bool:
		return fmt.Sprintf("%t", c)
	case nil:
		return ""
	default:
		return fmt.Sprint(c)
	}
}

// MarkUsed writes the Used marker into column B for the first `through`
// data rows (sheet rows 2..through+1). Re-marking an already marked prefix
// is a no-op in effect, which is what makes commit retries safe.
func (c *Client) MarkUsed(ctx context.Context, ref string, through int) error {
	if through <= 0 {
		return nil
	}

	id, tab := splitRef(ref)
	rng := fmt.Sprintf("%s!B2:B%d", tab, through+1)
	fullURL := fmt.Sprintf("%s/spreadsheets/%s/values/%s?valueInputOption=RAW",
		c.baseURL, url.PathEscape(id), url.PathEscape(rng))

	values := make([][]string, through)
	for i := range values {
		values[i] = []string{UsedMarker}
	}
	payload, err := json.Marshal(map[string]any{
		"range":          rng,
		"majorDimension": "ROWS",
		"values":         values,
	})
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fullURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheets API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
