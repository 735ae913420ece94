// Package occupancy 住址/房间入住统计（纯计算，无 I/O）。
//
// 住户通过住址名称、房间名称关联（精确匹配，区分大小写）。
// 没有房间的住址容量无上限：Capacity / Available 为 nil，永远不是 0。
// 可用数可以为负（超员），不做截断。
package occupancy

import (
	"strconv"

	"smarthouse-data/internal/domain"
)

// Unbounded 无上限的展示文本
const Unbounded = "∞"

// Occupant 参与统计的在住人员
type Occupant struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Kind          domain.Kind `json:"kind"`
	Address       string      `json:"address"`
	RoomNumber    string      `json:"roomNumber"`
	CoordinatorID string      `json:"coordinatorId"`
}

// FromPerson 从人员构造
func FromPerson(kind domain.Kind, p domain.Person) Occupant {
	return Occupant{
		ID:            p.ID,
		Name:          p.FullName(),
		Kind:          kind,
		Address:       p.Address,
		RoomNumber:    p.RoomNumber,
		CoordinatorID: p.CoordinatorID,
	}
}

// RoomOccupancy 单个房间
type RoomOccupancy struct {
	RoomID    string `json:"roomId"`
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Occupied  int    `json:"occupied"`
	Available int    `json:"available"`
}

// AddressOccupancy 单个住址
type AddressOccupancy struct {
	AddressID string          `json:"addressId"`
	Name      string          `json:"name"`
	Locality  string          `json:"locality"`
	Rooms     []RoomOccupancy `json:"rooms"`
	Occupied  int             `json:"occupied"`

	// Capacity 活跃房间容量之和；nil = 住址没有任何房间（无上限）
	Capacity  *int `json:"capacity"`
	Available *int `json:"available"`

	// UnassignedOccupants 房间名未知（或为空）的住户，只计入住址级
	UnassignedOccupants int `json:"unassignedOccupants"`
}

// Unbounded 住址没有任何房间
func (a AddressOccupancy) Unbounded() bool { return a.Capacity == nil }

// OverCapacity 入住人数超过容量
func (a AddressOccupancy) OverCapacity() bool {
	return a.Available != nil && *a.Available < 0
}

// AvailableLabel 可用数的展示文本
func (a AddressOccupancy) AvailableLabel() string {
	if a.Available == nil {
		return Unbounded
	}
	return strconv.Itoa(*a.Available)
}

// Compute 按住址汇总；结果与 addresses 顺序一致
func Compute(addresses []domain.Address, occupants []Occupant) []AddressOccupancy {
	out := make([]AddressOccupancy, len(addresses))
	byName := make(map[string]int, len(addresses))
	// 住址名 -> 房间名 -> Rooms 下标
	rooms := make(map[string]map[string]int, len(addresses))

	for i, a := range addresses {
		ao := AddressOccupancy{
			AddressID: a.ID,
			Name:      a.Name,
			Locality:  a.Locality,
			Rooms:     []RoomOccupancy{},
		}
		idx := make(map[string]int)
		capacity := 0
		for _, r := range a.Rooms {
			if !r.IsActive {
				continue
			}
			idx[r.Name] = len(ao.Rooms)
			ao.Rooms = append(ao.Rooms, RoomOccupancy{RoomID: r.ID, Name: r.Name, Capacity: r.Capacity})
			capacity += r.Capacity
		}
		// 没有任何房间记录才算无上限；房间全部停用时容量为 0
		if len(a.Rooms) > 0 {
			ao.Capacity = &capacity
		}
		out[i] = ao
		// 重名住址：第一个生效
		if _, dup := byName[a.Name]; !dup {
			byName[a.Name] = i
			rooms[a.Name] = idx
		}
	}

	for _, o := range occupants {
		i, ok := byName[o.Address]
		if !ok {
			continue
		}
		ao := &out[i]
		ao.Occupied++
		if j, ok := rooms[o.Address][o.RoomNumber]; ok {
			ao.Rooms[j].Occupied++
		} else {
			ao.UnassignedOccupants++
		}
	}

	for i := range out {
		ao := &out[i]
		for j := range ao.Rooms {
			ao.Rooms[j].Available = ao.Rooms[j].Capacity - ao.Rooms[j].Occupied
		}
		if ao.Capacity != nil {
			avail := *ao.Capacity - ao.Occupied
			ao.Available = &avail
		}
	}
	return out
}

// Totals 所有有上限住址的合计；存在无上限住址时 Available 为 nil
type Totals struct {
	Occupied  int  `json:"occupied"`
	Capacity  *int `json:"capacity"`
	Available *int `json:"available"`
}

// Sum 合计
func Sum(items []AddressOccupancy) Totals {
	var t Totals
	capacity, bounded := 0, true
	for _, a := range items {
		t.Occupied += a.Occupied
		if a.Capacity == nil {
			bounded = false
			continue
		}
		capacity += *a.Capacity
	}
	if bounded && len(items) > 0 {
		avail := capacity - t.Occupied
		t.Capacity = &capacity
		t.Available = &avail
	}
	return t
}
