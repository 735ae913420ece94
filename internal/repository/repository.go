// Package repository 远程表格之上的类型化仓储。
//
// 每个集合（员工、非员工、BOK 住户、设置、通知、审计、换址历史）是一个整体 TTL 快照；
// 写入总是对远程存储中的全部行做 读-改-写（不读缓存），成功后同步失效相关集合，
// 然后交给 tracker 生成通知和审计（尽力而为）。
//
// 并发：同一进程内同一张表的 读-改-写 由 Gateway 串行化；多个进程之间没有锁，
// 两个实例同时修改同一行时后写入者整行覆盖先写入者（last-write-wins），
// 另一实例的缓存在 TTL 到期前可能继续返回旧值。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smarthouse-data/internal/cache"
	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/notify"
	"smarthouse-data/internal/sheets"
	"smarthouse-data/internal/tracker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound 目标实体不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord 补丁或实体无法成为有效记录
	ErrInvalidRecord = errors.New("invalid record")

	ErrQuotaExceeded = sheets.ErrQuotaExceeded
	ErrTimeout       = sheets.ErrTimeout
	ErrSchema        = sheets.ErrSchema
)

// IsRetryable 配额或超时错误，调用方可提示稍后再试
func IsRetryable(err error) bool {
	return sheets.IsRetryable(err)
}

// Patch 按列名的部分更新
type Patch map[string]any

// Options 各集合缓存 TTL
type Options struct {
	PeopleTTL        time.Duration
	SettingsTTL      time.Duration
	NotificationsTTL time.Duration
	AuditTTL         time.Duration
}

// DefaultOptions 默认 TTL
func DefaultOptions() Options {
	return Options{
		PeopleTTL:        60 * time.Second,
		SettingsTTL:      5 * time.Minute,
		NotificationsTTL: 30 * time.Second,
		AuditTTL:         2 * time.Minute,
	}
}

// Repository 进程级单例；缓存状态都在实例上
type Repository struct {
	client  sheets.Client
	codecs  *codec.Registry
	tracker *tracker.Tracker
	logger  *zap.Logger

	employees    *peopleTable[domain.Employee]
	nonEmployees *peopleTable[domain.NonEmployee]
	bokResidents *peopleTable[domain.BokResident]

	settings      *cache.Value[*domain.Settings]
	notifications *cache.Collection[domain.Notification]
	audit         *cache.Collection[domain.AuditLogEntry]
	history       *cache.Collection[domain.AddressHistoryEntry]

	now   func() time.Time
	newID func() string
}

// New 创建仓储；publisher 可为 nil
func New(client sheets.Client, codecs *codec.Registry, opts Options, publisher notify.Publisher, logger *zap.Logger) *Repository {
	def := DefaultOptions()
	if opts.PeopleTTL <= 0 {
		opts.PeopleTTL = def.PeopleTTL
	}
	if opts.SettingsTTL <= 0 {
		opts.SettingsTTL = def.SettingsTTL
	}
	if opts.NotificationsTTL <= 0 {
		opts.NotificationsTTL = def.NotificationsTTL
	}
	if opts.AuditTTL <= 0 {
		opts.AuditTTL = def.AuditTTL
	}

	r := &Repository{
		client: client,
		codecs: codecs,
		logger: logger,

		employees:    newPeopleTable[domain.Employee](domain.KindEmployee, codecs.Employees, employeePerson, opts.PeopleTTL),
		nonEmployees: newPeopleTable[domain.NonEmployee](domain.KindNonEmployee, codecs.NonEmployees, nonEmployeePerson, opts.PeopleTTL),
		bokResidents: newPeopleTable[domain.BokResident](domain.KindBokResident, codecs.BokResidents, bokResidentPerson, opts.PeopleTTL),

		settings:      cache.NewValue[*domain.Settings]("settings", opts.SettingsTTL),
		notifications: cache.NewCollection[domain.Notification]("notifications", opts.NotificationsTTL),
		audit:         cache.NewCollection[domain.AuditLogEntry]("audit", opts.AuditTTL),
		history:       cache.NewCollection[domain.AddressHistoryEntry]("address_history", opts.AuditTTL),

		now:   time.Now,
		newID: uuid.NewString,
	}
	r.tracker = tracker.New(r, r, publisher, logger)
	return r
}

// WithClock 测试用：仓储、缓存和 tracker 共用同一时钟
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	r.tracker.WithClock(now)
	r.employees.cache.WithClock(now)
	r.nonEmployees.cache.WithClock(now)
	r.bokResidents.cache.WithClock(now)
	r.settings.WithClock(now)
	r.notifications.WithClock(now)
	r.audit.WithClock(now)
	r.history.WithClock(now)
	return r
}

// InvalidateAll 丢弃所有缓存
func (r *Repository) InvalidateAll() {
	r.InvalidateEmployees()
	r.InvalidateNonEmployees()
	r.InvalidateBokResidents()
	r.settings.Invalidate()
	r.notifications.Invalidate()
	r.audit.Invalidate()
	r.history.Invalidate()
}

// readTable 读整张表；表不存在视为空表
func (r *Repository) readTable(ctx context.Context, table string) ([]sheets.Row, error) {
	rows, err := r.client.GetRows(ctx, table)
	if errors.Is(err, sheets.ErrTableNotFound) {
		r.logger.Debug("table missing, treated as empty", zap.String("table", table))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return rows, nil
}

func (r *Repository) ensure(ctx context.Context, s codec.Schema) error {
	if err := r.client.EnsureHeaders(ctx, s.Table, s.Headers()); err != nil {
		return fmt.Errorf("ensure headers %s: %w", s.Table, err)
	}
	return nil
}

func (r *Repository) today() time.Time {
	now := r.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// notFound 把行/表不存在转成仓储错误
func notFound(err error, what, id string) error {
	if errors.Is(err, sheets.ErrRowNotFound) || errors.Is(err, sheets.ErrTableNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}

// Coordinator 实现 tracker.ActorResolver
func (r *Repository) Coordinator(ctx context.Context, uid string) (domain.Coordinator, bool, error) {
	s, err := r.Settings(ctx)
	if err != nil {
		return domain.Coordinator{}, false, err
	}
	co, ok := s.Coordinator(uid)
	return co, ok, nil
}

// AppendNotification 实现 tracker.Sink
func (r *Repository) AppendNotification(ctx context.Context, n domain.Notification) error {
	c := r.codecs.Notifications
	if err := r.ensure(ctx, c.Schema()); err != nil {
		return err
	}
	if err := r.client.AddRow(ctx, codec.TableNotifications, c.Encode(n)); err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	r.notifications.Invalidate()
	return nil
}

// AppendAudit 实现 tracker.Sink
func (r *Repository) AppendAudit(ctx context.Context, e domain.AuditLogEntry) error {
	c := r.codecs.Audit
	if err := r.ensure(ctx, c.Schema()); err != nil {
		return err
	}
	if err := r.client.AddRow(ctx, codec.TableAuditLog, c.Encode(e)); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	r.audit.Invalidate()
	return nil
}
