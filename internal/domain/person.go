package domain

import (
	"strings"
	"time"
)

// Status 人员生命周期状态
type Status string

const (
	StatusActive    Status = "active"
	StatusDismissed Status = "dismissed"
)

// Kind 人员类别（对应各自的表）
type Kind string

const (
	KindEmployee    Kind = "employee"
	KindNonEmployee Kind = "non-employee"
	KindBokResident Kind = "bok-resident"
)

// Label 用于通知消息里的主语
func (k Kind) Label() string {
	switch k {
	case KindEmployee:
		return "employee"
	case KindNonEmployee:
		return "non-employee"
	case KindBokResident:
		return "BOK resident"
	default:
		return string(k)
	}
}

// Person 人员公共字段（Employee / NonEmployee / BokResident 共享）
// 日期均为日历日期（UTC 零点），nil 表示空
type Person struct {
	ID            string `json:"id"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	CoordinatorID string `json:"coordinatorId"`
	Nationality   string `json:"nationality"`
	Gender        string `json:"gender"`

	// 住址/房间以名称关联（非外键）
	Address    string `json:"address"`
	RoomNumber string `json:"roomNumber"`

	Zaklad string `json:"zaklad"`

	CheckInDate  *time.Time `json:"checkInDate"`
	CheckOutDate *time.Time `json:"checkOutDate"`

	Comments string `json:"comments"`
	Status   Status `json:"status"`
}

// FullName "First Last"
func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// IsActive 当前是否在住
func (p Person) IsActive() bool {
	return p.Status != StatusDismissed
}

// CheckedOutBefore 退房日期早于 day（按日历日比较）
func (p Person) CheckedOutBefore(day time.Time) bool {
	if p.CheckOutDate == nil {
		return false
	}
	return p.CheckOutDate.Before(day)
}

// DepositReturn 押金退还状态（白名单取值）
type DepositReturn string

const (
	DepositReturnYes           DepositReturn = "Tak"
	DepositReturnNo            DepositReturn = "Nie"
	DepositReturnNotApplicable DepositReturn = "Nie dotyczy"
)

// DepositReturnValues 白名单
var DepositReturnValues = []string{
	string(DepositReturnYes),
	string(DepositReturnNo),
	string(DepositReturnNotApplicable),
}

// DeductionReason 扣款原因（以 JSON 文本存储在单个列中）
type DeductionReason struct {
	ID      string   `json:"id"`
	Reason  string   `json:"reason"`
	Amount  *float64 `json:"amount"`
	Checked bool     `json:"checked"`
}

// Employee 员工
type Employee struct {
	Person

	ContractStartDate   *time.Time `json:"contractStartDate"`
	ContractEndDate     *time.Time `json:"contractEndDate"`
	DepartureReportDate *time.Time `json:"departureReportDate"`

	// 扣款
	DeductionRegulation *float64          `json:"deductionRegulation"`
	DeductionNo4Months  *float64          `json:"deductionNo4Months"`
	DeductionNo30Days   *float64          `json:"deductionNo30Days"`
	DeductionReasons    []DeductionReason `json:"deductionReasons"`
	DepositReturn       *DepositReturn    `json:"depositReturned"`
	DepositReturnAmount *float64          `json:"depositReturnAmount"`

	// 换址记录
	OldAddress        string     `json:"oldAddress"`
	AddressChangeDate *time.Time `json:"addressChangeDate"`
}

// NonEmployee 非员工住户
type NonEmployee struct {
	Person

	DepartureReportDate *time.Time `json:"departureReportDate"`
	PaymentType         string     `json:"paymentType"`
	PaymentAmount       *float64   `json:"paymentAmount"`
}

// BokResident BOK 住户
type BokResident struct {
	Person

	Role         string     `json:"role"`
	ReturnStatus string     `json:"returnStatus"`
	SendDate     *time.Time `json:"sendDate"`
}
