package codec

import (
	"strings"

	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/sheets"

	"go.uber.org/zap"
)

// legacyFullNameColumn 旧版表只有一个姓名列（姓在前）
const legacyFullNameColumn = "fullName"

// splitFullName 按第一段空白拆分：第一个词为姓，其余为名
func splitFullName(full string) (last, first string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// decodePerson 公共字段；id 或姓氏无法确定时返回 false
func decodePerson(r *reader) (domain.Person, bool) {
	p := domain.Person{
		ID:        r.text("id"),
		FirstName: r.text("firstName"),
		LastName:  r.text("lastName"),
	}
	if p.ID == "" {
		r.warn("id", "row without id dropped", nil)
		return domain.Person{}, false
	}
	if p.LastName == "" {
		last, first := splitFullName(r.text(legacyFullNameColumn))
		p.LastName = last
		if p.FirstName == "" {
			p.FirstName = first
		}
	}
	if p.LastName == "" {
		r.warn("lastName", "row without last name dropped", nil)
		return domain.Person{}, false
	}

	p.CoordinatorID = r.text("coordinatorId")
	p.Nationality = r.text("nationality")
	p.Gender = r.text("gender")
	p.Address = r.text("address")
	p.RoomNumber = r.text("roomNumber")
	p.Zaklad = r.text("zaklad")
	p.CheckInDate = r.date("checkInDate")
	p.CheckOutDate = r.date("checkOutDate")
	p.Comments = r.text("comments")
	p.Status = domain.StatusActive
	if strings.EqualFold(r.text("status"), string(domain.StatusDismissed)) {
		p.Status = domain.StatusDismissed
	}
	return p, true
}

func encodePerson(p domain.Person) sheets.Row {
	status := p.Status
	if status == "" {
		status = domain.StatusActive
	}
	return sheets.Row{
		"id":            p.ID,
		"firstName":     p.FirstName,
		"lastName":      p.LastName,
		"coordinatorId": p.CoordinatorID,
		"nationality":   p.Nationality,
		"gender":        p.Gender,
		"address":       p.Address,
		"roomNumber":    p.RoomNumber,
		"zaklad":        p.Zaklad,
		"checkInDate":   encodeDate(p.CheckInDate),
		"checkOutDate":  encodeDate(p.CheckOutDate),
		"comments":      p.Comments,
		"status":        string(status),
	}
}

// fill 把 schema 中缺失的列补成空串
func fill(s Schema, row sheets.Row) sheets.Row {
	for _, c := range s.Columns {
		if _, ok := row[c.Name]; ok {
			continue
		}
		if c.Kind == List {
			row[c.Name] = "[]"
		} else {
			row[c.Name] = ""
		}
	}
	return row
}

// EmployeeCodec Employees 表
type EmployeeCodec struct {
	logger *zap.Logger
}

func (c *EmployeeCodec) Schema() Schema { return EmployeeSchema }

func (c *EmployeeCodec) ID(e domain.Employee) string { return e.ID }

func (c *EmployeeCodec) Decode(row sheets.Row) (domain.Employee, bool) {
	r := newReader(row, TableEmployees, "id", c.logger)
	p, ok := decodePerson(r)
	if !ok {
		return domain.Employee{}, false
	}
	e := domain.Employee{
		Person:              p,
		ContractStartDate:   r.date("contractStartDate"),
		ContractEndDate:     r.date("contractEndDate"),
		DepartureReportDate: r.date("departureReportDate"),
		DeductionRegulation: r.number("deductionRegulation"),
		DeductionNo4Months:  r.number("deductionNo4Months"),
		DeductionNo30Days:   r.number("deductionNo30Days"),
		DepositReturnAmount: r.number("depositReturnAmount"),
		OldAddress:          r.text("oldAddress"),
		AddressChangeDate:   r.date("addressChangeDate"),
	}
	var reasons []domain.DeductionReason
	if r.list("deductionReason", &reasons) && len(reasons) > 0 {
		e.DeductionReasons = reasons
	}
	depositCol, _ := EmployeeSchema.Column("depositReturned")
	if v := r.enum(depositCol); v != "" {
		dr := domain.DepositReturn(v)
		e.DepositReturn = &dr
	}
	return e, true
}

func (c *EmployeeCodec) Encode(e domain.Employee) sheets.Row {
	row := encodePerson(e.Person)
	row["contractStartDate"] = encodeDate(e.ContractStartDate)
	row["contractEndDate"] = encodeDate(e.ContractEndDate)
	row["departureReportDate"] = encodeDate(e.DepartureReportDate)
	row["oldAddress"] = e.OldAddress
	row["addressChangeDate"] = encodeDate(e.AddressChangeDate)
	row["deductionRegulation"] = encodeNumber(e.DeductionRegulation)
	row["deductionNo4Months"] = encodeNumber(e.DeductionNo4Months)
	row["deductionNo30Days"] = encodeNumber(e.DeductionNo30Days)
	if len(e.DeductionReasons) == 0 {
		row["deductionReason"] = "[]"
	} else {
		row["deductionReason"] = encodeList(e.DeductionReasons)
	}
	row["depositReturned"] = ""
	if e.DepositReturn != nil {
		row["depositReturned"] = string(*e.DepositReturn)
	}
	row["depositReturnAmount"] = encodeNumber(e.DepositReturnAmount)
	return fill(EmployeeSchema, row)
}

// NonEmployeeCodec NonEmployees 表
type NonEmployeeCodec struct {
	logger *zap.Logger
}

func (c *NonEmployeeCodec) Schema() Schema { return NonEmployeeSchema }

func (c *NonEmployeeCodec) ID(n domain.NonEmployee) string { return n.ID }

func (c *NonEmployeeCodec) Decode(row sheets.Row) (domain.NonEmployee, bool) {
	r := newReader(row, TableNonEmployees, "id", c.logger)
	p, ok := decodePerson(r)
	if !ok {
		return domain.NonEmployee{}, false
	}
	return domain.NonEmployee{
		Person:              p,
		DepartureReportDate: r.date("departureReportDate"),
		PaymentType:         r.text("paymentType"),
		PaymentAmount:       r.number("paymentAmount"),
	}, true
}

func (c *NonEmployeeCodec) Encode(n domain.NonEmployee) sheets.Row {
	row := encodePerson(n.Person)
	row["departureReportDate"] = encodeDate(n.DepartureReportDate)
	row["paymentType"] = n.PaymentType
	row["paymentAmount"] = encodeNumber(n.PaymentAmount)
	return fill(NonEmployeeSchema, row)
}

// BokResidentCodec BokResidents 表
type BokResidentCodec struct {
	logger *zap.Logger
}

func (c *BokResidentCodec) Schema() Schema { return BokResidentSchema }

func (c *BokResidentCodec) ID(b domain.BokResident) string { return b.ID }

func (c *BokResidentCodec) Decode(row sheets.Row) (domain.BokResident, bool) {
	r := newReader(row, TableBokResidents, "id", c.logger)
	p, ok := decodePerson(r)
	if !ok {
		return domain.BokResident{}, false
	}
	return domain.BokResident{
		Person:       p,
		Role:         r.text("role"),
		ReturnStatus: r.text("returnStatus"),
		SendDate:     r.date("sendDate"),
	}, true
}

func (c *BokResidentCodec) Encode(b domain.BokResident) sheets.Row {
	row := encodePerson(b.Person)
	row["role"] = b.Role
	row["returnStatus"] = b.ReturnStatus
	row["sendDate"] = encodeDate(b.SendDate)
	return fill(BokResidentSchema, row)
}
