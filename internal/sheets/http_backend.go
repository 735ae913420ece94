package sheets

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPBackend 通过 REST 表格网关访问远程文档。
//
//	GET    /v1/spreadsheets/{id}                              -> {"tables":[{"name":..,"headers":[..]}]}
//	GET    /v1/spreadsheets/{id}/tables/{table}/rows          -> {"rows":[{"row":2,"values":{..}}]}
//	POST   /v1/spreadsheets/{id}/tables/{table}/rows          <- {"rows":[{..}]}
//	PUT    /v1/spreadsheets/{id}/tables/{table}/rows/{row}    <- {"values":{..}}
//	DELETE /v1/spreadsheets/{id}/tables/{table}/rows/{row}
//	PUT    /v1/spreadsheets/{id}/tables/{table}/headers       <- {"headers":[..]}
//
// 429 / RESOURCE_EXHAUSTED 映射为 ErrQuotaExceeded，404 映射为 ErrTableNotFound。
// 重试由 Gateway 负责，resty 自身不重试。
type HTTPBackend struct {
	httpClient    *resty.Client
	spreadsheetID string
	logger        *zap.Logger
}

type apiTable struct {
	Name    string   `json:"name"`
	Headers []string `json:"headers"`
}

type apiDescribeResponse struct {
	Tables []apiTable `json:"tables"`
}

type apiRow struct {
	Row    int64          `json:"row"`
	Values map[string]any `json:"values"`
}

type apiRowsResponse struct {
	Rows []apiRow `json:"rows"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTPBackend 创建 REST 网关客户端
func NewHTTPBackend(baseURL, spreadsheetID, token string, logger *zap.Logger) *HTTPBackend {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPBackend{
		httpClient:    client,
		spreadsheetID: spreadsheetID,
		logger:        logger,
	}
}

func (b *HTTPBackend) request(ctx context.Context, table string) *resty.Request {
	return b.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", b.spreadsheetID).
		SetPathParam("table", table).
		SetError(&apiError{})
}

func (b *HTTPBackend) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("failed to call table gateway (%s): %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := strings.TrimSpace(resp.String())
	status := ""
	if e, ok := resp.Error().(*apiError); ok && e != nil {
		status = e.Error.Status
		if e.Error.Message != "" {
			msg = e.Error.Message
		}
	}
	b.logger.Debug("table gateway returned error",
		zap.String("op", op),
		zap.Int("status_code", resp.StatusCode()),
		zap.String("status", status),
	)
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTableNotFound, msg)
	case resp.StatusCode() == http.StatusGatewayTimeout || status == "DEADLINE_EXCEEDED":
		return fmt.Errorf("%w: %s", ErrTimeout, msg)
	default:
		return fmt.Errorf("table gateway error: %s (status: %d)", msg, resp.StatusCode())
	}
}

func (b *HTTPBackend) Describe(ctx context.Context) (map[string][]string, error) {
	var out apiDescribeResponse
	resp, err := b.request(ctx, "").
		SetResult(&out).
		Get("/v1/spreadsheets/{id}")
	if err := b.check("describe", resp, err); err != nil {
		return nil, err
	}
	tables := make(map[string][]string, len(out.Tables))
	for _, t := range out.Tables {
		tables[t.Name] = t.Headers
	}
	return tables, nil
}

func (b *HTTPBackend) ReadRows(ctx context.Context, table string) ([]Record, error) {
	var out apiRowsResponse
	resp, err := b.request(ctx, table).
		SetResult(&out).
		Get("/v1/spreadsheets/{id}/tables/{table}/rows")
	if err := b.check("read", resp, err); err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(out.Rows))
	for _, r := range out.Rows {
		recs = append(recs, Record{Handle: r.Row, Values: Row(r.Values)})
	}
	return recs, nil
}

func (b *HTTPBackend) AppendRows(ctx context.Context, table string, rows []Row) error {
	resp, err := b.request(ctx, table).
		SetBody(map[string]any{"rows": rows}).
		Post("/v1/spreadsheets/{id}/tables/{table}/rows")
	return b.check("append", resp, err)
}

func (b *HTTPBackend) WriteRow(ctx context.Context, table string, handle int64, row Row) error {
	resp, err := b.request(ctx, table).
		SetPathParam("row", strconv.FormatInt(handle, 10)).
		SetBody(map[string]any{"values": row}).
		Put("/v1/spreadsheets/{id}/tables/{table}/rows/{row}")
	return b.check("write", resp, err)
}

func (b *HTTPBackend) DeleteRow(ctx context.Context, table string, handle int64) error {
	resp, err := b.request(ctx, table).
		SetPathParam("row", strconv.FormatInt(handle, 10)).
		Delete("/v1/spreadsheets/{id}/tables/{table}/rows/{row}")
	return b.check("delete", resp, err)
}

func (b *HTTPBackend) WriteHeaders(ctx context.Context, table string, headers []string) error {
	resp, err := b.request(ctx, table).
		SetBody(map[string]any{"headers": headers}).
		Put("/v1/spreadsheets/{id}/tables/{table}/headers")
	return b.check("headers", resp, err)
}
