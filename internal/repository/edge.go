package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/pkg/apperrors"
	"github.com/edgegate/edgegate/internal/pkg/metrics"
	"github.com/edgegate/edgegate/internal/signer"
)

const (
	bulkInsertPath = "/functions/v1/audit-logs"
	queryPath      = "/functions/v1/audit-logs/query"
	invokeBasePath = "/functions/v1/"
)

// EdgeClient talks to the external edge functions. All business logic and
// persistence live behind them; this client only shapes requests, signs them,
// and interprets structured errors. It implements service.AuditBackend for
// the audit write/read paths.
type EdgeClient struct {
	baseURL        string
	serviceRoleKey string
	hmacSecret     string
	sigHeader      string
	tsHeader       string
	httpClient     *http.Client

	now func() time.Time
}

// NewEdgeClient builds the client. Returns nil when no base URL is
// configured, which callers treat as "no backend" (audit no-op mode).
func NewEdgeClient(edge config.EdgeConfig, hmacCfg config.HMACConfig) *EdgeClient {
	if edge.BaseURL == "" {
		return nil
	}
	timeout := time.Duration(edge.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sigHeader := hmacCfg.SignatureHeader
	if sigHeader == "" {
		sigHeader = "x-signature"
	}
	tsHeader := hmacCfg.TimestampHeader
	if tsHeader == "" {
		tsHeader = "x-timestamp"
	}
	return &EdgeClient{
		baseURL:        edge.BaseURL,
		serviceRoleKey: edge.ServiceRoleKey,
		hmacSecret:     hmacCfg.Secret,
		sigHeader:      sigHeader,
		tsHeader:       tsHeader,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
		now: time.Now,
	}
}

type bulkInsertRequest struct {
	Logs []*model.AuditLogEntry `json:"logs"`
}

type edgeError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// BulkInsert delivers one audit batch with the RPC shape {logs: [...]}.
func (c *EdgeClient) BulkInsert(ctx context.Context, entries []*model.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	body, err := json.Marshal(bulkInsertRequest{Logs: entries})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, bulkInsertPath, body, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// Query forwards audit filters to the backend read endpoint. The caller's
// bearer token is attached so row-level access control is enforced by the
// store, never re-implemented here.
func (c *EdgeClient) Query(ctx context.Context, filters model.AuditQueryFilters, userToken string) (*model.AuditQueryResult, error) {
	body, err := json.Marshal(filters)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, queryPath, body, userToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var result model.AuditQueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "malformed audit query response", err)
	}
	if result.Entries == nil {
		result.Entries = []*model.AuditLogEntry{}
	}
	return &result, nil
}

// Invoke forwards an arbitrary request to a named edge function, used by the
// proxy handler. The body is forwarded verbatim.
func (c *EdgeClient) Invoke(ctx context.Context, function, method string, query url.Values, body []byte, userToken string) (int, []byte, error) {
	path := invokeBasePath + function
	reqPath := path
	if len(query) > 0 {
		reqPath = path + "?" + query.Encode()
	}

	ts := c.now().Unix()
	payload := signer.CanonicalPayload(body, query)
	sig := signer.Sign(c.hmacSecret, method, path, payload, ts)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+reqPath, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	c.setHeaders(req, sig, ts, userToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues(function, "error").Inc()
		return 0, nil, apperrors.New(apperrors.ErrUpstream, fmt.Sprintf("edge function %s unreachable", function), err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues(function, "error").Inc()
		return 0, nil, apperrors.New(apperrors.ErrUpstream, "failed reading edge function response", err)
	}
	metrics.UpstreamCalls.WithLabelValues(function, statusClass(resp.StatusCode)).Inc()
	return resp.StatusCode, out, nil
}

// do issues a signed server-to-server call. Every outbound request carries
// the HMAC signature and timestamp the edge functions verify on their side.
func (c *EdgeClient) do(ctx context.Context, method, path string, body []byte, userToken string) (*http.Response, error) {
	ts := c.now().Unix()
	sig := signer.Sign(c.hmacSecret, method, path, string(body), ts)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, sig, ts, userToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "audit backend unreachable", err)
	}
	return resp, nil
}

func (c *EdgeClient) setHeaders(req *http.Request, sig string, ts int64, userToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.sigHeader, sig)
	req.Header.Set(c.tsHeader, strconv.FormatInt(ts, 10))
	if c.serviceRoleKey != "" {
		req.Header.Set("apikey", c.serviceRoleKey)
	}
	if userToken != "" {
		req.Header.Set("Authorization", "Bearer "+userToken)
	} else if c.serviceRoleKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
	}
}

func (c *EdgeClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var structured edgeError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Error != "" {
		return apperrors.New(apperrors.ErrUpstream,
			fmt.Sprintf("audit backend rejected request (%d %s): %s", resp.StatusCode, structured.Code, structured.Error), nil)
	}
	return apperrors.New(apperrors.ErrUpstream,
		fmt.Sprintf("audit backend returned status %d", resp.StatusCode), nil)
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
