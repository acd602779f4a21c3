// Package supabase implements the locker table and blob storage against a
// hosted PostgREST/storage backend.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"locker-status-backend/config"
	"locker-status-backend/internal/model"
	"locker-status-backend/internal/source"
)

const restPath = "/rest/v1/"

// ErrRealtimeDisabled is returned by Subscribe when polling is turned off.
var ErrRealtimeDisabled = errors.New("realtime disabled for backend")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, msg)
}

// Client talks to one hosted backend. It implements source.Table for the
// lockers table and source.Pinger.
type Client struct {
	baseURL  string
	reads    *resty.Client
	writes   *resty.Client
	table    string
	realtime bool
	interval time.Duration
	log      *zap.Logger
}

// New creates a client for cfg. Reads are retried on transport errors and
// 5xx answers; writes are sent once.
func New(cfg config.BackendConfig, log *zap.Logger) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	reads := newResty(base, cfg.APIKey, timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})
	return &Client{
		baseURL:  base,
		reads:    reads,
		writes:   newResty(base, cfg.APIKey, timeout),
		table:    model.LockerRow{}.TableName(),
		realtime: cfg.Realtime,
		interval: cfg.PollInterval,
		log:      log,
	}
}

func newResty(base, key string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("apikey", key).
		SetAuthToken(key).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
}

// List returns the rows matching q.
func (c *Client) List(ctx context.Context, q source.Query) ([]model.LockerRow, error) {
	var rows []model.LockerRow
	resp, err := c.reads.R().
		SetContext(ctx).
		SetQueryParamsFromValues(queryParams(q, "*")).
		SetResult(&rows).
		Get(restPath + c.table)
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list %s: %w", c.table, err)
	}
	return rows, nil
}

// Count returns the number of rows matching q without fetching them.
func (c *Client) Count(ctx context.Context, q source.Query) (int64, error) {
	q.OrderBy = ""
	resp, err := c.reads.R().
		SetContext(ctx).
		SetQueryParamsFromValues(queryParams(q, model.ColID)).
		SetHeader("Prefer", "count=exact").
		Head(restPath + c.table)
	if err := check(resp, err); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.table, err)
	}
	return parseContentRange(resp.Header().Get("Content-Range"))
}

// Update applies patch to the row with id and returns the stored row.
func (c *Client) Update(ctx context.Context, id int64, patch source.Patch) (model.LockerRow, error) {
	var rows []model.LockerRow
	resp, err := c.writes.R().
		SetContext(ctx).
		SetQueryParam(model.ColID, "eq."+strconv.FormatInt(id, 10)).
		SetHeader("Prefer", "return=representation").
		SetBody(map[string]any(patch)).
		SetResult(&rows).
		Patch(restPath + c.table)
	if err := check(resp, err); err != nil {
		return model.LockerRow{}, fmt.Errorf("update locker %d: %w", id, err)
	}
	if len(rows) == 0 {
		return model.LockerRow{}, fmt.Errorf("update locker %d: %w", id, source.ErrNotFound)
	}
	return rows[0], nil
}

// Insert creates row and returns it with the identity assigned by the backend.
func (c *Client) Insert(ctx context.Context, row model.LockerRow) (model.LockerRow, error) {
	body := map[string]any{
		model.ColCodigo:               row.Codigo,
		model.ColGrupo:                row.Grupo,
		model.ColColaboradorNombre:    row.ColaboradorNombre,
		model.ColColaboradorDocumento: row.ColaboradorDocumento,
		model.ColFechaAsignacion:      row.FechaAsignacion,
		model.ColNotas:                row.Notas,
		model.ColColor:                row.Color,
		model.ColIcono:                row.Icono,
	}
	if row.Estado != "" {
		body[model.ColEstado] = row.Estado
	}
	if row.Activo != nil {
		body[model.ColActivo] = *row.Activo
	}
	var rows []model.LockerRow
	resp, err := c.writes.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(body).
		SetResult(&rows).
		Post(restPath + c.table)
	if err := check(resp, err); err != nil {
		return model.LockerRow{}, fmt.Errorf("insert locker %s: %w", row.Codigo, err)
	}
	if len(rows) == 0 {
		return model.LockerRow{}, fmt.Errorf("insert locker %s: empty representation", row.Codigo)
	}
	return rows[0], nil
}

// Ping checks that the table answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.writes.R().
		SetContext(ctx).
		SetQueryParam("select", model.ColID).
		SetQueryParam("limit", "1").
		Get(restPath + c.table)
	return check(resp, err)
}

// Subscribe starts a polling change feed. Without a baseline the first poll
// reports every row as an insert.
func (c *Client) Subscribe(ctx context.Context) (source.Subscription, error) {
	return c.SubscribeFrom(ctx, nil)
}

// SubscribeFrom starts a polling change feed that diffs its first poll
// against rows.
func (c *Client) SubscribeFrom(ctx context.Context, rows []model.LockerRow) (source.Subscription, error) {
	if !c.realtime || c.interval <= 0 {
		return nil, ErrRealtimeDisabled
	}
	return startPoller(ctx, c, c.interval, rows, c.log), nil
}

func queryParams(q source.Query, sel string) map[string][]string {
	params := map[string][]string{"select": {sel}}
	for col, v := range q.Eq {
		params[col] = []string{"eq." + formatValue(v)}
	}
	if q.OrderBy != "" {
		params["order"] = []string{q.OrderBy + ".asc"}
	}
	return params
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// parseContentRange reads the total from "0-9/42" or "*/42".
func parseContentRange(h string) (int64, error) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || i == len(h)-1 {
		return 0, fmt.Errorf("missing count in content-range %q", h)
	}
	n, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse content-range %q: %w", h, err)
	}
	return n, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	if body := resp.Body(); len(body) > 0 {
		if jerr := json.Unmarshal(body, apiErr); jerr != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}
	return apiErr
}
