package codec

import (
	"strconv"
	"strings"

	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/sheets"

	"go.uber.org/zap"
)

// AddressCodec Addresses 表（房间在 Rooms 表，按 addressId 关联）
type AddressCodec struct {
	logger *zap.Logger
}

func (c *AddressCodec) Schema() Schema { return AddressSchema }

func (c *AddressCodec) ID(a domain.Address) string { return a.ID }

func (c *AddressCodec) Decode(row sheets.Row) (domain.Address, bool) {
	r := newReader(row, TableAddresses, "id", c.logger)
	a := domain.Address{
		ID:       r.text("id"),
		Name:     r.text("name"),
		Locality: r.text("locality"),
		IsActive: r.boolean("isActive", true),
	}
	if a.ID == "" {
		r.warn("id", "row without id dropped", nil)
		return domain.Address{}, false
	}
	a.CoordinatorIDs = coordinatorIDs(r)
	return a, true
}

// coordinatorIDs JSON 列表；旧数据是逗号分隔文本
func coordinatorIDs(r *reader) []string {
	raw := r.text("coordinatorIds")
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var ids []string
		if r.list("coordinatorIds", &ids) {
			return compact(ids)
		}
		return nil
	}
	return compact(strings.Split(raw, ","))
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *AddressCodec) Encode(a domain.Address) sheets.Row {
	ids := a.CoordinatorIDs
	if ids == nil {
		ids = []string{}
	}
	return sheets.Row{
		"id":             a.ID,
		"locality":       a.Locality,
		"name":           a.Name,
		"coordinatorIds": encodeList(ids),
		"isActive":       encodeBool(a.IsActive),
	}
}

// RoomRecord Rooms 表的一行：房间 + 所属住址 id
type RoomRecord struct {
	AddressID string
	domain.Room
}

// RoomCodec Rooms 表
type RoomCodec struct {
	logger *zap.Logger
}

func (c *RoomCodec) Schema() Schema { return RoomSchema }

func (c *RoomCodec) ID(r RoomRecord) string { return r.ID }

func (c *RoomCodec) Decode(row sheets.Row) (RoomRecord, bool) {
	r := newReader(row, TableRooms, "id", c.logger)
	rec := RoomRecord{
		AddressID: r.text("addressId"),
		Room: domain.Room{
			ID:       r.text("id"),
			Name:     r.text("name"),
			Capacity: r.integer("capacity", 0),
			IsActive: r.boolean("isActive", true),
		},
	}
	if rec.ID == "" || rec.AddressID == "" {
		r.warn("addressId", "room without id or address dropped", nil)
		return RoomRecord{}, false
	}
	if rec.Capacity < 0 {
		r.warn("capacity", "negative capacity reset to 0", rec.Capacity)
		rec.Capacity = 0
	}
	return rec, true
}

func (c *RoomCodec) Encode(rec RoomRecord) sheets.Row {
	return sheets.Row{
		"id":        rec.ID,
		"addressId": rec.AddressID,
		"name":      rec.Name,
		"capacity":  strconv.Itoa(rec.Capacity),
		"isActive":  encodeBool(rec.IsActive),
	}
}

// CoordinatorCodec Coordinators 表
type CoordinatorCodec struct {
	logger *zap.Logger
}

func (c *CoordinatorCodec) Schema() Schema { return CoordinatorSchema }

func (c *CoordinatorCodec) ID(co domain.Coordinator) string { return co.UID }

func (c *CoordinatorCodec) Decode(row sheets.Row) (domain.Coordinator, bool) {
	r := newReader(row, TableCoordinators, "uid", c.logger)
	co := domain.Coordinator{
		UID:        r.text("uid"),
		Name:       r.text("name"),
		IsAdmin:    r.boolean("isAdmin", false),
		Department: r.text("department"),
	}
	if co.UID == "" {
		r.warn("uid", "row without uid dropped", nil)
		return domain.Coordinator{}, false
	}
	return co, true
}

func (c *CoordinatorCodec) Encode(co domain.Coordinator) sheets.Row {
	return sheets.Row{
		"uid":        co.UID,
		"name":       co.Name,
		"isAdmin":    encodeBool(co.IsAdmin),
		"department": co.Department,
	}
}

// NameListCodec 单列名称表
type NameListCodec struct {
	schema Schema
}

func (c *NameListCodec) Schema() Schema { return c.schema }

func (c *NameListCodec) ID(name string) string { return name }

func (c *NameListCodec) Decode(row sheets.Row) (string, bool) {
	name := row.String("name")
	return name, name != ""
}

func (c *NameListCodec) Encode(name string) sheets.Row {
	return sheets.Row{"name": strings.TrimSpace(name)}
}
