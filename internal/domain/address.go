package domain

// Room 房间（Rooms 表，通过 addressId 关联 Address）
// 入住人数是派生量，不在房间上保存住户列表
type Room struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	IsActive bool   `json:"isActive"`
}

// Address 住址（Addresses 表）
type Address struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Locality       string   `json:"locality"`
	CoordinatorIDs []string `json:"coordinatorIds"`
	Rooms          []Room   `json:"rooms"`
	IsActive       bool     `json:"isActive"`
}

// ManagedBy coordinatorID 是否在授权范围内；空 ID 视为不过滤
func (a Address) ManagedBy(coordinatorID string) bool {
	if coordinatorID == "" {
		return true
	}
	for _, id := range a.CoordinatorIDs {
		if id == coordinatorID {
			return true
		}
	}
	return false
}

// Coordinator 协调员
type Coordinator struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	IsAdmin    bool   `json:"isAdmin"`
	Department string `json:"department"`
}

// Settings 进程内只读聚合；任何设置写入后整体重建
type Settings struct {
	Addresses        []Address     `json:"addresses"`
	Coordinators     []Coordinator `json:"coordinators"`
	Nationalities    []string      `json:"nationalities"`
	Departments      []string      `json:"departments"`
	Genders          []string      `json:"genders"`
	Localities       []string      `json:"localities"`
	PaymentTypes     []string      `json:"paymentTypesNZ"`
	BokRoles         []string      `json:"bokRoles"`
	BokReturnOptions []string      `json:"bokReturnOptions"`
	BokStatuses      []string      `json:"bokStatuses"`
}

// Coordinator 按 uid 查找
func (s *Settings) Coordinator(uid string) (Coordinator, bool) {
	if s == nil {
		return Coordinator{}, false
	}
	for _, c := range s.Coordinators {
		if c.UID == uid {
			return c, true
		}
	}
	return Coordinator{}, false
}

// Address 按 id 查找
func (s *Settings) Address(id string) (Address, bool) {
	if s == nil {
		return Address{}, false
	}
	for _, a := range s.Addresses {
		if a.ID == id {
			return a, true
		}
	}
	return Address{}, false
}
