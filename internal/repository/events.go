package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/sheets"
	"smarthouse-data/internal/tracker"

	"go.uber.org/zap"
)

// NotificationFilter 通知过滤
type NotificationFilter struct {
	// RecipientID 非空时只返回本人和广播通知
	RecipientID string
	UnreadOnly  bool
}

// AuditFilter 审计过滤；零值字段不过滤
type AuditFilter struct {
	TargetID string
	ActorID  string
}

func (r *Repository) loadNotifications(ctx context.Context) ([]domain.Notification, error) {
	rows, err := r.readTable(ctx, codec.TableNotifications)
	if err != nil {
		return nil, err
	}
	out := codec.DecodeAll[domain.Notification](r.codecs.Notifications, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListNotifications 新的在前
func (r *Repository) ListNotifications(ctx context.Context, f NotificationFilter) ([]domain.Notification, error) {
	return r.notifications.List(ctx, r.loadNotifications, func(n domain.Notification) bool {
		if f.UnreadOnly && n.IsRead {
			return false
		}
		return n.VisibleTo(f.RecipientID)
	})
}

// MarkNotificationRead 标记单条已读
func (r *Repository) MarkNotificationRead(ctx context.Context, id string) error {
	err := r.client.FindAndUpdateRow(ctx, codec.TableNotifications, sheets.ByColumn("id", id), sheets.Row{"isRead": "TRUE"})
	if err != nil {
		return notFound(err, "notification", id)
	}
	r.notifications.Invalidate()
	return nil
}

// MarkAllNotificationsRead 标记收件人可见的所有未读通知；返回标记数量
func (r *Repository) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error) {
	rows, err := r.readTable(ctx, codec.TableNotifications)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, n := range codec.DecodeAll[domain.Notification](r.codecs.Notifications, rows) {
		if !n.IsRead && n.VisibleTo(recipientID) {
			ids = append(ids, n.ID)
		}
	}

	marked := 0
	defer r.notifications.Invalidate()
	for _, id := range ids {
		err := r.client.FindAndUpdateRow(ctx, codec.TableNotifications, sheets.ByColumn("id", id), sheets.Row{"isRead": "TRUE"})
		if err != nil {
			return marked, fmt.Errorf("mark notification %s read: %w", id, err)
		}
		marked++
	}
	return marked, nil
}

func (r *Repository) loadAudit(ctx context.Context) ([]domain.AuditLogEntry, error) {
	rows, err := r.readTable(ctx, codec.TableAuditLog)
	if err != nil {
		return nil, err
	}
	out := codec.DecodeAll[domain.AuditLogEntry](r.codecs.Audit, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// ListAuditLog 新的在前
func (r *Repository) ListAuditLog(ctx context.Context, f AuditFilter) ([]domain.AuditLogEntry, error) {
	return r.audit.List(ctx, r.loadAudit, func(e domain.AuditLogEntry) bool {
		if f.TargetID != "" && e.TargetID != f.TargetID {
			return false
		}
		return f.ActorID == "" || e.ActorID == f.ActorID
	})
}

func (r *Repository) loadHistory(ctx context.Context) ([]domain.AddressHistoryEntry, error) {
	rows, err := r.readTable(ctx, codec.TableAddressHistory)
	if err != nil {
		return nil, err
	}
	return codec.DecodeAll[domain.AddressHistoryEntry](r.codecs.AddressHistory, rows), nil
}

// ListAddressHistory employeeID 为空时返回全部
func (r *Repository) ListAddressHistory(ctx context.Context, employeeID string) ([]domain.AddressHistoryEntry, error) {
	return r.history.List(ctx, r.loadHistory, func(h domain.AddressHistoryEntry) bool {
		return employeeID == "" || h.EmployeeID == employeeID
	})
}

// RemoveAddressHistory 删除一条换址历史
func (r *Repository) RemoveAddressHistory(ctx context.Context, actor domain.Actor, id string) error {
	deleted, err := r.client.DeleteRows(ctx, codec.TableAddressHistory, sheets.ByColumn("id", id))
	if err != nil {
		return notFound(err, "address history", id)
	}
	if len(deleted) == 0 {
		return fmt.Errorf("%w: address history %s", ErrNotFound, id)
	}
	r.history.Invalidate()

	subject := tracker.Subject{Type: "address history", ID: id}
	if h, ok := r.codecs.AddressHistory.Decode(deleted[0]); ok {
		subject.Name = h.EmployeeFirstName + " " + h.EmployeeLastName
	}
	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:     actor,
		Action:    tracker.ActionRemove,
		Subject:   subject,
		Important: true,
	})
	return nil
}

// recordAddressChange 员工换址后追加历史：旧住址、旧入住日期，换址日作为退房日期。
// 主写入已经成功，这里失败只记日志。
func (r *Repository) recordAddressChange(ctx context.Context, prev domain.Employee, changedOn time.Time) {
	entry := domain.AddressHistoryEntry{
		ID:                r.newID(),
		EmployeeID:        prev.ID,
		EmployeeFirstName: prev.FirstName,
		EmployeeLastName:  prev.LastName,
		Address:           prev.Address,
		CheckInDate:       prev.CheckInDate,
		CheckOutDate:      &changedOn,
	}
	if s, err := r.Settings(ctx); err == nil {
		if co, ok := s.Coordinator(prev.CoordinatorID); ok {
			entry.CoordinatorName = co.Name
			entry.Department = co.Department
		}
	}

	c := r.codecs.AddressHistory
	if err := r.ensure(ctx, c.Schema()); err != nil {
		r.logger.Error("failed to record address change", zap.String("employee_id", prev.ID), zap.Error(err))
		return
	}
	if err := r.client.AddRow(ctx, codec.TableAddressHistory, c.Encode(entry)); err != nil {
		r.logger.Error("failed to record address change", zap.String("employee_id", prev.ID), zap.Error(err))
		return
	}
	r.history.Invalidate()
}
