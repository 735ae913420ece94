// Package codec 行 <-> 领域实体 的转换。
//
// 远程表格里一切都是文本：解码是全函数，任何字段解析失败都退化为安全默认值并记录告警，
// 只有 id / 姓氏缺失时整行被丢弃；编码总是输出该表的所有表头列。
package codec

import "smarthouse-data/internal/domain"

// 表名（与远程存储的契约）
const (
	TableEmployees        = "Employees"
	TableNonEmployees     = "NonEmployees"
	TableBokResidents     = "BokResidents"
	TableAddresses        = "Addresses"
	TableRooms            = "Rooms"
	TableCoordinators     = "Coordinators"
	TableNationalities    = "Nationalities"
	TableDepartments      = "Departments"
	TableGenders          = "Genders"
	TableLocalities       = "Localities"
	TablePaymentTypes     = "PaymentTypesNZ"
	TableBokRoles         = "BokRoles"
	TableBokReturnOptions = "BokReturnOptions"
	TableBokStatuses      = "BokStatuses"
	TableNotifications    = "Notifications"
	TableAuditLog         = "AuditLog"
	TableAddressHistory   = "AddressHistory"
)

// ColumnKind 单元格的逻辑类型
type ColumnKind int

const (
	Text ColumnKind = iota
	Date
	Bool
	Number
	Int
	List
	Enum
	Timestamp
)

func (k ColumnKind) String() string {
	switch k {
	case Text:
		return "text"
	case Date:
		return "date"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case Int:
		return "int"
	case List:
		return "list"
	case Enum:
		return "enum"
	case Timestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Column 表头列
type Column struct {
	Name string
	Kind ColumnKind
	// Enum 白名单（仅 Kind == Enum）
	Enum []string
}

// Allows 值是否在白名单内
func (c Column) Allows(v string) bool {
	for _, e := range c.Enum {
		if e == v {
			return true
		}
	}
	return false
}

// Schema 一张表的列定义，顺序即表头顺序
type Schema struct {
	Table   string
	Columns []Column
}

// Headers 表头列名
func (s Schema) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Column 按列名查找
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func col(name string, kind ColumnKind) Column { return Column{Name: name, Kind: kind} }

func enumCol(name string, values ...string) Column {
	return Column{Name: name, Kind: Enum, Enum: values}
}

var statusColumn = enumCol("status", string(domain.StatusActive), string(domain.StatusDismissed))

// personHead 所有人员表共享的前缀列
var personHead = []Column{
	col("id", Text),
	col("firstName", Text),
	col("lastName", Text),
	col("coordinatorId", Text),
	col("nationality", Text),
	col("gender", Text),
	col("address", Text),
	col("roomNumber", Text),
	col("zaklad", Text),
	col("checkInDate", Date),
	col("checkOutDate", Date),
}

func columns(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var (
	EmployeeSchema = Schema{Table: TableEmployees, Columns: columns(personHead, []Column{
		col("contractStartDate", Date),
		col("contractEndDate", Date),
		col("departureReportDate", Date),
		col("comments", Text),
		statusColumn,
		col("oldAddress", Text),
		col("addressChangeDate", Date),
		col("deductionRegulation", Number),
		col("deductionNo4Months", Number),
		col("deductionNo30Days", Number),
		col("deductionReason", List),
		enumCol("depositReturned", domain.DepositReturnValues...),
		col("depositReturnAmount", Number),
	})}

	NonEmployeeSchema = Schema{Table: TableNonEmployees, Columns: columns(personHead, []Column{
		col("departureReportDate", Date),
		col("comments", Text),
		statusColumn,
		col("paymentType", Text),
		col("paymentAmount", Number),
	})}

	BokResidentSchema = Schema{Table: TableBokResidents, Columns: columns(personHead, []Column{
		col("comments", Text),
		statusColumn,
		col("role", Text),
		col("returnStatus", Text),
		col("sendDate", Date),
	})}

	AddressSchema = Schema{Table: TableAddresses, Columns: []Column{
		col("id", Text),
		col("locality", Text),
		col("name", Text),
		col("coordinatorIds", List),
		col("isActive", Bool),
	}}

	RoomSchema = Schema{Table: TableRooms, Columns: []Column{
		col("id", Text),
		col("addressId", Text),
		col("name", Text),
		col("capacity", Int),
		col("isActive", Bool),
	}}

	CoordinatorSchema = Schema{Table: TableCoordinators, Columns: []Column{
		col("uid", Text),
		col("name", Text),
		col("isAdmin", Bool),
		col("department", Text),
	}}

	NotificationSchema = Schema{Table: TableNotifications, Columns: []Column{
		col("id", Text),
		col("message", Text),
		col("entityId", Text),
		col("entityName", Text),
		col("actorName", Text),
		col("recipientId", Text),
		col("createdAt", Timestamp),
		col("isRead", Bool),
		enumCol("type",
			string(domain.NotificationSuccess),
			string(domain.NotificationInfo),
			string(domain.NotificationWarning),
			string(domain.NotificationDestructive),
		),
		col("changes", List),
	}}

	AuditSchema = Schema{Table: TableAuditLog, Columns: []Column{
		col("id", Text),
		col("timestamp", Timestamp),
		col("actorId", Text),
		col("actorName", Text),
		col("action", Text),
		col("targetType", Text),
		col("targetId", Text),
		col("details", Text),
	}}

	AddressHistorySchema = Schema{Table: TableAddressHistory, Columns: []Column{
		col("id", Text),
		col("employeeId", Text),
		col("employeeFirstName", Text),
		col("employeeLastName", Text),
		col("coordinatorName", Text),
		col("department", Text),
		col("address", Text),
		col("checkInDate", Date),
		col("checkOutDate", Date),
	}}
)

// NameListSchema 单列名称表（Nationalities、Departments ...）
func NameListSchema(table string) Schema {
	return Schema{Table: table, Columns: []Column{col("name", Text)}}
}

// NameListTables 设置中的单列名称表
var NameListTables = []string{
	TableNationalities,
	TableDepartments,
	TableGenders,
	TableLocalities,
	TablePaymentTypes,
	TableBokRoles,
	TableBokReturnOptions,
	TableBokStatuses,
}

// AllSchemas 全部表（含名称表），用于一次性建表头
func AllSchemas() []Schema {
	out := []Schema{
		EmployeeSchema,
		NonEmployeeSchema,
		BokResidentSchema,
		AddressSchema,
		RoomSchema,
		CoordinatorSchema,
		NotificationSchema,
		AuditSchema,
		AddressHistorySchema,
	}
	for _, table := range NameListTables {
		out = append(out, NameListSchema(table))
	}
	return out
}
