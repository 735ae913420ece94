package codec

import (
	"smarthouse-data/internal/sheets"

	"go.uber.org/zap"
)

// Codec 一种实体的行编解码
type Codec[T any] interface {
	Schema() Schema
	// Decode 全函数：无效行返回 (zero, false)，字段级问题只告警
	Decode(row sheets.Row) (T, bool)
	// Encode 输出所有表头列
	Encode(v T) sheets.Row
	ID(v T) string
}

// DecodeAll 解码整张表，丢弃无效行
func DecodeAll[T any](c Codec[T], rows []sheets.Row) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if v, ok := c.Decode(row); ok {
			out = append(out, v)
		}
	}
	return out
}

// Registry 所有实体的编解码器
type Registry struct {
	Employees      *EmployeeCodec
	NonEmployees   *NonEmployeeCodec
	BokResidents   *BokResidentCodec
	Addresses      *AddressCodec
	Rooms          *RoomCodec
	Coordinators   *CoordinatorCodec
	Notifications  *NotificationCodec
	Audit          *AuditCodec
	AddressHistory *AddressHistoryCodec
}

// NewRegistry 创建编解码器集合
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		Employees:      &EmployeeCodec{logger: logger},
		NonEmployees:   &NonEmployeeCodec{logger: logger},
		BokResidents:   &BokResidentCodec{logger: logger},
		Addresses:      &AddressCodec{logger: logger},
		Rooms:          &RoomCodec{logger: logger},
		Coordinators:   &CoordinatorCodec{logger: logger},
		Notifications:  &NotificationCodec{logger: logger},
		Audit:          &AuditCodec{logger: logger},
		AddressHistory: &AddressHistoryCodec{logger: logger},
	}
}

// NameList 单列名称表的编解码器
func (r *Registry) NameList(table string) *NameListCodec {
	return &NameListCodec{schema: NameListSchema(table)}
}
