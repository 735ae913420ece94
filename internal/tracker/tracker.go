// Package tracker 字段级变更比对，以及变更通知 / 审计日志的生成。
//
// 通知和审计是尽力而为：主数据写入已经成功，这里的任何失败只记录日志，不回传给调用方。
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/metrics"
	"smarthouse-data/internal/notify"
	"smarthouse-data/internal/sheets"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action 变更动作
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
	ActionRename Action = "rename"
)

// Verb 通知消息中的动词
func (a Action) Verb() string {
	switch a {
	case ActionAdd:
		return "added"
	case ActionUpdate:
		return "updated"
	case ActionRemove:
		return "removed"
	case ActionRename:
		return "renamed"
	default:
		return string(a)
	}
}

func (a Action) notificationType() domain.NotificationType {
	switch a {
	case ActionAdd:
		return domain.NotificationSuccess
	case ActionRemove:
		return domain.NotificationDestructive
	default:
		return domain.NotificationInfo
	}
}

// Subject 被修改的实体
type Subject struct {
	Type          string // 标签，如 "employee"、"address"
	ID            string
	Name          string
	CoordinatorID string // 通知收件人
}

// Label "{type} {name}"
func (s Subject) Label() string {
	if s.Name == "" {
		return s.Type
	}
	return s.Type + " " + s.Name
}

// Mutation 一次已成功的写入
type Mutation struct {
	Actor   domain.Actor
	Action  Action
	Subject Subject
	Changes []domain.NotificationChange
	// Important 管理员关注的变更（删除、换址）发给所有人
	Important bool
}

// ActorResolver 按 uid 解析操作者
type ActorResolver interface {
	Coordinator(ctx context.Context, uid string) (domain.Coordinator, bool, error)
}

// Sink 通知与审计的持久化
type Sink interface {
	AppendNotification(ctx context.Context, n domain.Notification) error
	AppendAudit(ctx context.Context, e domain.AuditLogEntry) error
}

// Tracker 生成并写入通知与审计
type Tracker struct {
	actors    ActorResolver
	sink      Sink
	publisher notify.Publisher
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// New 创建 Tracker；publisher 为 nil 时不推送
func New(actors ActorResolver, sink Sink, publisher notify.Publisher, logger *zap.Logger) *Tracker {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Tracker{
		actors:    actors,
		sink:      sink,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock 测试用
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Diff 对补丁中的每一列（按 schema 顺序）比较规范展示字符串，不同才记录
func Diff(schema codec.Schema, before sheets.Row, patch map[string]any) []domain.NotificationChange {
	var changes []domain.NotificationChange
	for _, c := range schema.Columns {
		newValue, ok := patch[c.Name]
		if !ok || c.Name == "id" {
			continue
		}
		oldText := codec.Display(c, before[c.Name])
		newText := codec.Display(c, newValue)
		if oldText == newText {
			continue
		}
		changes = append(changes, domain.NotificationChange{
			Field:    c.Name,
			OldValue: oldText,
			NewValue: newText,
		})
	}
	return changes
}

// Message "{actorName} {actionVerb} {subjectLabel}."
func Message(actorName string, action Action, subject Subject) string {
	return fmt.Sprintf("%s %s %s.", actorName, action.Verb(), subject.Label())
}

// RecordMutation 写一条通知和一条审计日志，并交给推送通道
func (t *Tracker) RecordMutation(ctx context.Context, m Mutation) {
	actorName, ok := t.resolveActor(ctx, m.Actor)
	if !ok {
		metrics.NotificationsEmitted.WithLabelValues("skipped").Inc()
		return
	}

	now := t.now().UTC()
	recipient := m.Subject.CoordinatorID
	if m.Important || recipient == "" {
		recipient = domain.RecipientBroadcast
	}
	typ := m.Action.notificationType()
	if m.Actor.Automatic {
		typ = domain.NotificationWarning
	}

	n := domain.Notification{
		ID:          t.newID(),
		Message:     Message(actorName, m.Action, m.Subject),
		EntityID:    m.Subject.ID,
		EntityName:  m.Subject.Name,
		ActorName:   actorName,
		RecipientID: recipient,
		CreatedAt:   now,
		Type:        typ,
		Changes:     m.Changes,
	}
	fields := []zap.Field{
		zap.String("action", string(m.Action)),
		zap.String("target_type", m.Subject.Type),
		zap.String("target_id", m.Subject.ID),
	}

	failed := false
	if err := t.sink.AppendNotification(ctx, n); err != nil {
		failed = true
		t.logger.Error("failed to append notification", append(fields, zap.Error(err))...)
	} else if err := t.publisher.Publish(ctx, &n); err != nil {
		t.logger.Warn("failed to publish notification", append(fields, zap.Error(err))...)
	}

	details, err := json.Marshal(struct {
		Changes []domain.NotificationChange `json:"changes"`
	}{Changes: nonNil(m.Changes)})
	if err != nil {
		details = []byte(`{"changes":[]}`)
	}
	entry := domain.AuditLogEntry{
		ID:         t.newID(),
		Timestamp:  now,
		ActorID:    m.Actor.UID,
		ActorName:  actorName,
		Action:     string(m.Action),
		TargetType: m.Subject.Type,
		TargetID:   m.Subject.ID,
		Details:    string(details),
	}
	if err := t.sink.AppendAudit(ctx, entry); err != nil {
		failed = true
		t.logger.Error("failed to append audit entry", append(fields, zap.Error(err))...)
	}

	if failed {
		metrics.NotificationsEmitted.WithLabelValues("failed").Inc()
		return
	}
	metrics.NotificationsEmitted.WithLabelValues("ok").Inc()
}

func (t *Tracker) resolveActor(ctx context.Context, actor domain.Actor) (string, bool) {
	if actor.Automatic {
		return domain.AutomaticProcess, true
	}
	co, ok, err := t.actors.Coordinator(ctx, actor.UID)
	if err != nil {
		t.logger.Warn("failed to resolve actor, notification skipped",
			zap.String("actor_id", actor.UID), zap.Error(err))
		return "", false
	}
	if !ok {
		t.logger.Warn("unknown actor, notification skipped", zap.String("actor_id", actor.UID))
		return "", false
	}
	if co.Name == "" {
		return co.UID, true
	}
	return co.Name, true
}

func nonNil(c []domain.NotificationChange) []domain.NotificationChange {
	if c == nil {
		return []domain.NotificationChange{}
	}
	return c
}
