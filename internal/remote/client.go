package remote

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

	"github.com/golang-jwt/jwt/v5"

	"github.com/trekmed/fieldsync/internal/record"
)

// defaultTimeout bounds every remote call. The replay and warm loops hold a
// syncing guard while a call is in flight; without a timeout a hung call
// would pin that guard until process restart.
const defaultTimeout = 30 * time.Second

// Client is the HTTP implementation of Gateway against the managed
// backend's PostgREST-style table API.
//
// Requests are authenticated with the service API key plus the user's
// access token. The client performs no retries; transient failures are the
// sync engine's concern.
type Client struct {
	baseURL     string
	apiKey      string
	accessToken string
	http        *http.Client
}

// ClientConfig configures the remote client.
type ClientConfig struct {
	// BaseURL is the service root, e.g. https://project.example.co
	BaseURL string

	// APIKey is the public API key sent with every request.
	APIKey string

	// AccessToken is the authenticated user's JWT. May be empty for an
	// unauthenticated client; Session() then reports no session.
	AccessToken string

	// Timeout overrides defaultTimeout when positive.
	Timeout time.Duration
}

// NewClient creates a gateway client for the given service.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		http:        &http.Client{Timeout: timeout},
	}, nil
}

// Session implements Gateway. The session is decoded from the access
// token's claims; the signature is the service's to verify, not ours.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	if c.accessToken == "" {
		return nil, nil
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(c.accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to decode access token: %w", err)
	}

	session := &Session{}
	if sub, err := claims.GetSubject(); err == nil {
		session.UserID = sub
	}
	if role, ok := claims["role"].(string); ok {
		session.Role = role
	}
	if meta, ok := claims["app_metadata"].(map[string]any); ok {
		if role, ok := meta["role"].(string); ok {
			session.Role = role
		}
	}
	if session.UserID == "" {
		return nil, fmt.Errorf("access token carries no subject")
	}
	return session, nil
}

// Trips implements Gateway.
func (c *Client) Trips(ctx context.Context) ([]record.TripSnapshot, error) {
	var rows []tripRow
	if err := c.get(ctx, "trips", url.Values{"select": {"*"}}, &rows); err != nil {
		return nil, err
	}

	trips := make([]record.TripSnapshot, 0, len(rows))
	for i := range rows {
		trips = append(trips, rows[i].toSnapshot())
	}
	return trips, nil
}

// Conditions implements Gateway.
func (c *Client) Conditions(ctx context.Context) ([]record.ConditionCatalogEntry, error) {
	var rows []record.ConditionCatalogEntry
	if err := c.get(ctx, "conditions", url.Values{"select": {"*"}}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Enrollments implements Gateway.
func (c *Client) Enrollments(ctx context.Context, tripID string) ([]record.EnrollmentSnapshot, error) {
	params := url.Values{
		"select": {"*,profiles(full_name,phone),trips(title)"},
		"order":  {"created_at.desc"},
	}
	if tripID != "" {
		params.Set("trip_id", "eq."+tripID)
	}

	var rows []enrollmentRow
	if err := c.get(ctx, "enrollments", params, &rows); err != nil {
		return nil, err
	}

	enrollments := make([]record.EnrollmentSnapshot, 0, len(rows))
	for i := range rows {
		enrollments = append(enrollments, rows[i].toSnapshot())
	}
	return enrollments, nil
}

// EnrollmentExists implements Gateway.
func (c *Client) EnrollmentExists(ctx context.Context, tripID, userID string) (bool, error) {
	params := url.Values{
		"select":  {"id"},
		"trip_id": {"eq." + tripID},
		"user_id": {"eq." + userID},
		"limit":   {"1"},
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, "enrollments", params, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// RegistrationDefaults implements Gateway. Defaults combine the user's
// medical-profile fields with the address and menu of their most recent
// enrollment, mirroring what a returning user expects to see prefilled.
func (c *Client) RegistrationDefaults(ctx context.Context, userID string) (record.RegistrationForm, error) {
	var form record.RegistrationForm

	var profiles []MedicalProfile
	err := c.get(ctx, "medical_profiles", url.Values{
		"select":  {"*"},
		"user_id": {"eq." + userID},
		"limit":   {"1"},
	}, &profiles)
	if err != nil {
		return form, err
	}
	if len(profiles) > 0 {
		form = profiles[0].Form()
	}

	var enrollments []struct {
		Address  string `json:"address"`
		City     string `json:"city"`
		Province string `json:"province"`
		Country  string `json:"country"`
		Menu     string `json:"menu"`
	}
	err = c.get(ctx, "enrollments", url.Values{
		"select":  {"address,city,province,country,menu"},
		"user_id": {"eq." + userID},
		"order":   {"created_at.desc"},
		"limit":   {"1"},
	}, &enrollments)
	if err != nil {
		return form, err
	}
	if len(enrollments) > 0 {
		last := enrollments[0]
		form.Address = last.Address
		form.City = last.City
		form.Province = last.Province
		form.Country = last.Country
		form.Menu = last.Menu
	}

	return form, nil
}

// MedicalRecords implements Gateway. The id set must respect
// MaxInFilterIDs; the remote query interface rejects larger filters, so the
// client fails fast instead of issuing a doomed request.
func (c *Client) MedicalRecords(ctx context.Context, userIDs []string) ([]record.MedicalRecordSnapshot, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	if len(userIDs) > MaxInFilterIDs {
		return nil, fmt.Errorf("in filter limited to %d ids, got %d", MaxInFilterIDs, len(userIDs))
	}

	params := url.Values{
		"select":  {"*"},
		"user_id": {"in.(" + strings.Join(userIDs, ",") + ")"},
	}

	var rows []json.RawMessage
	if err := c.get(ctx, "medical_profiles", params, &rows); err != nil {
		return nil, err
	}

	snaps := make([]record.MedicalRecordSnapshot, 0, len(rows))
	for _, raw := range rows {
		var key struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("failed to key medical record row: %w", err)
		}
		snaps = append(snaps, record.MedicalRecordSnapshot{
			UserID: key.UserID,
			Data:   raw,
		})
	}
	return snaps, nil
}

// MedicalRecord implements Gateway.
func (c *Client) MedicalRecord(ctx context.Context, userID string) (*record.MedicalRecordSnapshot, error) {
	snaps, err := c.MedicalRecords(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// UpsertMedicalProfile implements Gateway.
func (c *Client) UpsertMedicalProfile(ctx context.Context, profile MedicalProfile) error {
	return c.write(ctx, http.MethodPost, "medical_profiles",
		url.Values{"on_conflict": {"user_id"}}, profile, true)
}

// InsertEnrollment implements Gateway.
func (c *Client) InsertEnrollment(ctx context.Context, enrollment EnrollmentInsert) error {
	return c.write(ctx, http.MethodPost, "enrollments", nil, enrollment, false)
}

// UpsertIncidentReport implements Gateway.
func (c *Client) UpsertIncidentReport(ctx context.Context, report IncidentReportUpsert) error {
	return c.write(ctx, http.MethodPost, "incident_reports",
		url.Values{"on_conflict": {"id"}}, report, true)
}

// get performs a table select and decodes the JSON array response.
func (c *Client) get(ctx context.Context, table string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, table, params, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("select %s failed: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpError(table, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", table, err)
	}
	return nil
}

// write performs an insert or upsert against a table.
func (c *Client) write(ctx context.Context, method, table string, params url.Values, body any, merge bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s row: %w", table, err)
	}

	req, err := c.newRequest(ctx, method, table, params, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if merge {
		req.Header.Set("Prefer", "resolution=merge-duplicates")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("write to %s failed: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusNoContent {
		return httpError(table, resp)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, table string, params url.Values, body io.Reader) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", table, err)
	}

	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	return req, nil
}

func httpError(table string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s request returned %s: %s", table, resp.Status, strings.TrimSpace(string(body)))
}
