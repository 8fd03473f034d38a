package storage

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

	"github.com/rs/zerolog"
)

// PostgRESTBackend talks to a Supabase project over its PostgREST HTTP API
type PostgRESTBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	bus        *ChangeBus
	realtime   *RealtimeClient
	logger     zerolog.Logger
}

// NewPostgRESTBackend creates a backend for the project at baseURL. timeout
// bounds every HTTP round-trip.
func NewPostgRESTBackend(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *PostgRESTBackend {
	return &PostgRESTBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		bus:    NewChangeBus(),
		logger: logger.With().Str("component", "postgrest").Logger(),
	}
}

// AttachRealtime routes subscriptions through rt. Topics are joined when a
// table gets its first subscriber and left when the last one goes.
func (b *PostgRESTBackend) AttachRealtime(rt *RealtimeClient) {
	b.realtime = rt
	b.bus.OnIdle(func(table string) {
		if err := rt.Leave(table); err != nil {
			b.logger.Warn().Err(err).Str("table", table).Msg("failed to leave realtime topic")
		}
	})
}

// Bus returns the change bus subscriptions are registered on
func (b *PostgRESTBackend) Bus() *ChangeBus {
	return b.bus
}

// Publish injects a change notification received out of band
func (b *PostgRESTBackend) Publish(change Change) int {
	return b.bus.Publish(change)
}

func (b *PostgRESTBackend) Select(ctx context.Context, table string, q Query, dest interface{}) error {
	params := url.Values{}
	params.Set("select", selectClause(q))
	for _, f := range q.Filters {
		params.Add(f.Column, filterValue(f))
	}
	if q.Order != nil {
		dir := "desc"
		if q.Order.Ascending {
			dir = "asc"
		}
		params.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.Limit))
	}

	resp, err := b.do(ctx, http.MethodGet, table, params, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s rows: %w", table, err)
	}
	return nil
}

func (b *PostgRESTBackend) Insert(ctx context.Context, table string, row interface{}) error {
	resp, err := b.do(ctx, http.MethodPost, table, nil, row)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (b *PostgRESTBackend) Update(ctx context.Context, table string, patch map[string]interface{}, f Filter) error {
	params := url.Values{}
	params.Set(f.Column, filterValue(f))

	resp, err := b.do(ctx, http.MethodPatch, table, params, patch)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (b *PostgRESTBackend) Subscribe(ctx context.Context, table string, event ChangeEvent, fn ChangeHandler) (Subscription, error) {
	sub, first := b.bus.Subscribe(table, event, fn)
	if first && b.realtime != nil {
		if err := b.realtime.Join(ctx, table); err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("failed to join realtime topic for %s: %w", table, err)
		}
	}
	return sub, nil
}

func (b *PostgRESTBackend) Close() error {
	if b.realtime != nil {
		return b.realtime.Close()
	}
	return nil
}

// do sends one request and returns the response when the status is 2xx.
// Other statuses are decoded into a *RemoteError.
func (b *PostgRESTBackend) do(ctx context.Context, method, table string, params url.Values, body interface{}) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", b.baseURL, table)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", table, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, table, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeRemoteError(resp)
	}

	b.logger.Debug().
		Str("method", method).
		Str("table", table).
		Int("status", resp.StatusCode).
		Msg("remote request completed")

	return resp, nil
}

func decodeRemoteError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	remoteErr := &RemoteError{Status: resp.StatusCode}
	if err := json.Unmarshal(data, remoteErr); err != nil || remoteErr.Message == "" {
		remoteErr.Message = strings.TrimSpace(string(data))
	}
	return remoteErr
}

// selectClause renders columns and embeds, e.g. *,customer:customers(name,email)
func selectClause(q Query) string {
	parts := make([]string, 0, len(q.Embeds)+1)
	if len(q.Columns) == 0 {
		parts = append(parts, "*")
	} else {
		parts = append(parts, strings.Join(q.Columns, ","))
	}
	for _, e := range q.Embeds {
		parts = append(parts, fmt.Sprintf("%s:%s(%s)", e.Alias, e.Table, strings.Join(e.Columns, ",")))
	}
	return strings.Join(parts, ",")
}

// filterValue renders the PostgREST operator expression for f
func filterValue(f Filter) string {
	if f.Op == OpIn {
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
		return "in.(" + strings.Join(quoted, ",") + ")"
	}
	return "eq." + valueString(f.Value)
}
