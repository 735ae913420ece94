package sheets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"smarthouse-data/internal/cache"
	"smarthouse-data/internal/metrics"

	"go.uber.org/zap"
)

// Options 远程调用参数
type Options struct {
	CallTimeout    time.Duration // 单次调用超时
	MaxRetries     int           // 配额错误的最大重试次数
	RetryBaseDelay time.Duration // 退避基数：RetryBaseDelay * 2^attempt
	SessionTTL     time.Duration // 表头会话缓存
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		CallTimeout:    30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		SessionTTL:     10 * time.Minute,
	}
}

// Session 已打开的远程文档：表名 -> 表头
type Session struct {
	Tables   map[string][]string
	OpenedAt time.Time
}

// Headers 表头副本
func (s *Session) Headers(table string) ([]string, bool) {
	h, ok := s.Tables[table]
	if !ok {
		return nil, false
	}
	return append([]string(nil), h...), true
}

func (s *Session) with(table string, headers []string) *Session {
	tables := make(map[string][]string, len(s.Tables)+1)
	for k, v := range s.Tables {
		tables[k] = v
	}
	tables[table] = append([]string(nil), headers...)
	return &Session{Tables: tables, OpenedAt: s.OpenedAt}
}

// Gateway 在 Backend 上实现 Client
type Gateway struct {
	backend Backend
	opts    Options
	logger  *zap.Logger

	session *cache.Value[*Session]
	// 同一进程内对同一张表的 读-改-写 / 删除 串行，避免行句柄在两次调用之间漂移
	tableLocks sync.Map

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway 创建网关
func NewGateway(backend Backend, opts Options, logger *zap.Logger) *Gateway {
	def := DefaultOptions()
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = def.RetryBaseDelay
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = def.SessionTTL
	}
	return &Gateway{
		backend: backend,
		opts:    opts,
		logger:  logger,
		session: cache.NewValue[*Session]("session", opts.SessionTTL),
		sleep:   sleepCtx,
	}
}

// WithSleep 测试用：替换退避等待
func (g *Gateway) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Gateway {
	g.sleep = fn
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// call 执行一次远程操作：超时控制 + 配额重试 + 指标
func (g *Gateway) call(ctx context.Context, op, table string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
		err := fn(cctx)
		timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err == nil {
			metrics.RemoteCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}

		switch {
		case errors.Is(err, ErrTimeout) || timedOut:
			metrics.RemoteCalls.WithLabelValues(op, "timeout").Inc()
			if !errors.Is(err, ErrTimeout) {
				err = fmt.Errorf("%w after %s: %w", ErrTimeout, g.opts.CallTimeout, err)
			}
			return &RemoteError{Op: op, Table: table, Err: err}

		case errors.Is(err, ErrQuotaExceeded):
			metrics.RemoteCalls.WithLabelValues(op, "quota").Inc()
			if attempt >= g.opts.MaxRetries {
				return &RemoteError{Op: op, Table: table, Err: err}
			}
			delay := g.opts.RetryBaseDelay << attempt
			metrics.RemoteRetries.WithLabelValues(op).Inc()
			g.logger.Warn("remote quota exceeded, retrying",
				zap.String("op", op),
				zap.String("table", table),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			if serr := g.sleep(ctx, delay); serr != nil {
				return &RemoteError{Op: op, Table: table, Err: serr}
			}

		default:
			metrics.RemoteCalls.WithLabelValues(op, "error").Inc()
			return &RemoteError{Op: op, Table: table, Err: err}
		}
	}
}

func (g *Gateway) lockTable(table string) func() {
	v, _ := g.tableLocks.LoadOrStore(table, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Session 返回（必要时打开）远程会话
func (g *Gateway) Session(ctx context.Context) (*Session, error) {
	return g.session.Get(ctx, func(ctx context.Context) (*Session, error) {
		var tables map[string][]string
		err := g.call(ctx, "describe", "", func(ctx context.Context) error {
			var err error
			tables, err = g.backend.Describe(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		if tables == nil {
			tables = map[string][]string{}
		}
		g.logger.Debug("remote session opened", zap.Int("tables", len(tables)))
		return &Session{Tables: tables, OpenedAt: time.Now()}, nil
	})
}

// ResetSession 丢弃会话缓存
func (g *Gateway) ResetSession() {
	g.session.Invalidate()
}

func (g *Gateway) readRecords(ctx context.Context, table string) ([]Record, error) {
	var recs []Record
	err := g.call(ctx, "read", table, func(ctx context.Context) error {
		var err error
		recs, err = g.backend.ReadRows(ctx, table)
		return err
	})
	return recs, err
}

// GetRows 读取整张表
func (g *Gateway) GetRows(ctx context.Context, table string) ([]Row, error) {
	recs, err := g.readRecords(ctx, table)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, rec.Values)
	}
	return rows, nil
}

// AddRow 追加一行
func (g *Gateway) AddRow(ctx context.Context, table string, row Row) error {
	return g.AddRows(ctx, table, []Row{row})
}

// AddRows 批量追加
func (g *Gateway) AddRows(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	return g.call(ctx, "append", table, func(ctx context.Context) error {
		return g.backend.AppendRows(ctx, table, rows)
	})
}

// ModifyRow 读取全部行，找到第一条匹配行，交给 fn 计算新行后整行写回
func (g *Gateway) ModifyRow(ctx context.Context, table string, match Predicate, fn func(current Row) (Row, error)) (Row, Row, error) {
	unlock := g.lockTable(table)
	defer unlock()

	recs, err := g.readRecords(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	for _, rec := range recs {
		if !match(rec.Values) {
			continue
		}
		before := rec.Values.Clone()
		after, err := fn(rec.Values.Clone())
		if err != nil {
			return before, nil, err
		}
		if after == nil {
			// 调用方判定无需写入
			return before, before, nil
		}
		err = g.call(ctx, "write", table, func(ctx context.Context) error {
			return g.backend.WriteRow(ctx, table, rec.Handle, after)
		})
		if err != nil {
			return before, nil, err
		}
		return before, after, nil
	}
	return nil, nil, &RemoteError{Op: "modify", Table: table, Err: ErrRowNotFound}
}

// FindAndUpdateRow 覆盖第一条匹配行的 fields 列
func (g *Gateway) FindAndUpdateRow(ctx context.Context, table string, match Predicate, fields Row) error {
	_, _, err := g.ModifyRow(ctx, table, match, func(current Row) (Row, error) {
		for k, v := range fields {
			current[k] = v
		}
		return current, nil
	})
	return err
}

// DeleteRows 删除所有匹配行；按句柄倒序删除，已删除的行不会让剩余句柄失效
func (g *Gateway) DeleteRows(ctx context.Context, table string, match Predicate) ([]Row, error) {
	unlock := g.lockTable(table)
	defer unlock()

	recs, err := g.readRecords(ctx, table)
	if err != nil {
		return nil, err
	}
	var hits []Record
	for _, rec := range recs {
		if match(rec.Values) {
			hits = append(hits, rec)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Handle > hits[j].Handle })

	deleted := make([]Row, 0, len(hits))
	for _, rec := range hits {
		err := g.call(ctx, "delete", table, func(ctx context.Context) error {
			return g.backend.DeleteRow(ctx, table, rec.Handle)
		})
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, rec.Values)
	}
	return deleted, nil
}

// ReplaceRows 整表替换
func (g *Gateway) ReplaceRows(ctx context.Context, table string, rows []Row) error {
	return g.ReplaceMatching(ctx, table, func(Row) bool { return true }, rows)
}

// ReplaceMatching 用 rows 替换所有匹配行：先追加新行，再按读取时的句柄（从大到小）删除旧行。
// 追加失败时旧数据保持不变；删除中途失败时新旧行并存，不会丢数据。
func (g *Gateway) ReplaceMatching(ctx context.Context, table string, match Predicate, rows []Row) error {
	unlock := g.lockTable(table)
	defer unlock()

	recs, err := g.readRecords(ctx, table)
	if err != nil {
		return err
	}
	var old []Record
	for _, rec := range recs {
		if match(rec.Values) {
			old = append(old, rec)
		}
	}

	if len(rows) > 0 {
		err := g.call(ctx, "append", table, func(ctx context.Context) error {
			return g.backend.AppendRows(ctx, table, rows)
		})
		if err != nil {
			return err
		}
	}

	// 新行追加在末尾，句柄大于所有旧行；从大到小删除不会让剩余旧句柄漂移
	sort.Slice(old, func(i, j int) bool { return old[i].Handle > old[j].Handle })
	for _, rec := range old {
		err := g.call(ctx, "delete", table, func(ctx context.Context) error {
			return g.backend.DeleteRow(ctx, table, rec.Handle)
		})
		if err != nil {
			return fmt.Errorf("replace %s: new rows appended, stale rows left: %w", table, err)
		}
	}
	return nil
}

// EnsureHeaders 追加缺失列；表不存在时创建
func (g *Gateway) EnsureHeaders(ctx context.Context, table string, columns []string) error {
	sess, err := g.Session(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	current, exists := sess.Headers(table)

	have := make(map[string]struct{}, len(current))
	for _, h := range current {
		have[h] = struct{}{}
	}
	headers := current
	for _, c := range columns {
		if _, ok := have[c]; ok {
			continue
		}
		have[c] = struct{}{}
		headers = append(headers, c)
	}
	if exists && len(headers) == len(current) {
		return nil
	}

	err = g.call(ctx, "headers", table, func(ctx context.Context) error {
		return g.backend.WriteHeaders(ctx, table, headers)
	})
	if err != nil {
		g.ResetSession()
		return fmt.Errorf("%w: %s: %w", ErrSchema, table, err)
	}
	g.session.Set(sess.with(table, headers))
	g.logger.Info("table headers updated",
		zap.String("table", table),
		zap.Int("added", len(headers)-len(current)),
		zap.Bool("created", !exists),
	)
	return nil
}
