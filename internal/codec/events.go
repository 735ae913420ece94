package codec

import (
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/sheets"

	"go.uber.org/zap"
)

// NotificationCodec Notifications 表
type NotificationCodec struct {
	logger *zap.Logger
}

func (c *NotificationCodec) Schema() Schema { return NotificationSchema }

func (c *NotificationCodec) ID(n domain.Notification) string { return n.ID }

func (c *NotificationCodec) Decode(row sheets.Row) (domain.Notification, bool) {
	r := newReader(row, TableNotifications, "id", c.logger)
	n := domain.Notification{
		ID:          r.text("id"),
		Message:     r.text("message"),
		EntityID:    r.text("entityId"),
		EntityName:  r.text("entityName"),
		ActorName:   r.text("actorName"),
		RecipientID: r.text("recipientId"),
		CreatedAt:   r.timestamp("createdAt"),
		IsRead:      r.boolean("isRead", false),
		Type:        domain.NotificationInfo,
	}
	if n.ID == "" {
		return domain.Notification{}, false
	}
	typeCol, _ := NotificationSchema.Column("type")
	if t := r.enum(typeCol); t != "" {
		n.Type = domain.NotificationType(t)
	}
	var changes []domain.NotificationChange
	if r.list("changes", &changes) && len(changes) > 0 {
		n.Changes = changes
	}
	return n, true
}

func (c *NotificationCodec) Encode(n domain.Notification) sheets.Row {
	changes := n.Changes
	if changes == nil {
		changes = []domain.NotificationChange{}
	}
	typ := n.Type
	if typ == "" {
		typ = domain.NotificationInfo
	}
	return sheets.Row{
		"id":          n.ID,
		"message":     n.Message,
		"entityId":    n.EntityID,
		"entityName":  n.EntityName,
		"actorName":   n.ActorName,
		"recipientId": n.RecipientID,
		"createdAt":   encodeTimestamp(n.CreatedAt),
		"isRead":      encodeBool(n.IsRead),
		"type":        string(typ),
		"changes":     encodeList(changes),
	}
}

// AuditCodec AuditLog 表
type AuditCodec struct {
	logger *zap.Logger
}

func (c *AuditCodec) Schema() Schema { return AuditSchema }

func (c *AuditCodec) ID(e domain.AuditLogEntry) string { return e.ID }

func (c *AuditCodec) Decode(row sheets.Row) (domain.AuditLogEntry, bool) {
	r := newReader(row, TableAuditLog, "id", c.logger)
	e := domain.AuditLogEntry{
		ID:         r.text("id"),
		Timestamp:  r.timestamp("timestamp"),
		ActorID:    r.text("actorId"),
		ActorName:  r.text("actorName"),
		Action:     r.text("action"),
		TargetType: r.text("targetType"),
		TargetID:   r.text("targetId"),
		Details:    r.text("details"),
	}
	if e.ID == "" {
		return domain.AuditLogEntry{}, false
	}
	return e, true
}

func (c *AuditCodec) Encode(e domain.AuditLogEntry) sheets.Row {
	return sheets.Row{
		"id":         e.ID,
		"timestamp":  encodeTimestamp(e.Timestamp),
		"actorId":    e.ActorID,
		"actorName":  e.ActorName,
		"action":     e.Action,
		"targetType": e.TargetType,
		"targetId":   e.TargetID,
		"details":    e.Details,
	}
}

// AddressHistoryCodec AddressHistory 表
type AddressHistoryCodec struct {
	logger *zap.Logger
}

func (c *AddressHistoryCodec) Schema() Schema { return AddressHistorySchema }

func (c *AddressHistoryCodec) ID(h domain.AddressHistoryEntry) string { return h.ID }

func (c *AddressHistoryCodec) Decode(row sheets.Row) (domain.AddressHistoryEntry, bool) {
	r := newReader(row, TableAddressHistory, "id", c.logger)
	h := domain.AddressHistoryEntry{
		ID:                r.text("id"),
		EmployeeID:        r.text("employeeId"),
		EmployeeFirstName: r.text("employeeFirstName"),
		EmployeeLastName:  r.text("employeeLastName"),
		CoordinatorName:   r.text("coordinatorName"),
		Department:        r.text("department"),
		Address:           r.text("address"),
		CheckInDate:       r.date("checkInDate"),
		CheckOutDate:      r.date("checkOutDate"),
	}
	if h.ID == "" || h.EmployeeID == "" {
		return domain.AddressHistoryEntry{}, false
	}
	return h, true
}

func (c *AddressHistoryCodec) Encode(h domain.AddressHistoryEntry) sheets.Row {
	return sheets.Row{
		"id":                h.ID,
		"employeeId":        h.EmployeeID,
		"employeeFirstName": h.EmployeeFirstName,
		"employeeLastName":  h.EmployeeLastName,
		"coordinatorName":   h.CoordinatorName,
		"department":        h.Department,
		"address":           h.Address,
		"checkInDate":       encodeDate(h.CheckInDate),
		"checkOutDate":      encodeDate(h.CheckOutDate),
	}
}
