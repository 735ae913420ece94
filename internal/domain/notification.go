package domain

import "time"

// RecipientBroadcast 管理员关注的通知（所有人可见）
const RecipientBroadcast = "broadcast"

// NotificationType 通知类型标签
type NotificationType string

const (
	NotificationSuccess     NotificationType = "success"
	NotificationInfo        NotificationType = "info"
	NotificationWarning     NotificationType = "warning"
	NotificationDestructive NotificationType = "destructive"
)

// NotificationChange 字段级变更；新旧值都是规范展示字符串
type NotificationChange struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// Notification 写入后不可变（isRead 除外）
type Notification struct {
	ID          string               `json:"id"`
	Message     string               `json:"message"`
	EntityID    string               `json:"entityId"`
	EntityName  string               `json:"entityName"`
	ActorName   string               `json:"actorName"`
	RecipientID string               `json:"recipientId"`
	CreatedAt   time.Time            `json:"createdAt"`
	IsRead      bool                 `json:"isRead"`
	Type        NotificationType     `json:"type"`
	Changes     []NotificationChange `json:"changes"`
}

// VisibleTo 收件人自己的通知 + 广播
func (n Notification) VisibleTo(recipientID string) bool {
	if recipientID == "" {
		return true
	}
	return n.RecipientID == recipientID || n.RecipientID == RecipientBroadcast
}

// AuditLogEntry 审计日志（只追加）
type AuditLogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ActorID    string    `json:"actorId"`
	ActorName  string    `json:"actorName"`
	Action     string    `json:"action"`
	TargetType string    `json:"targetType"`
	TargetID   string    `json:"targetId"`
	Details    string    `json:"details"`
}

// AddressHistoryEntry 员工换址历史
type AddressHistoryEntry struct {
	ID                string     `json:"id"`
	EmployeeID        string     `json:"employeeId"`
	EmployeeFirstName string     `json:"employeeFirstName"`
	EmployeeLastName  string     `json:"employeeLastName"`
	CoordinatorName   string     `json:"coordinatorName"`
	Department        string     `json:"department"`
	Address           string     `json:"address"`
	CheckInDate       *time.Time `json:"checkInDate"`
	CheckOutDate      *time.Time `json:"checkOutDate"`
}
