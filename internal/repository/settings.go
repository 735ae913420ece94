package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/sheets"
	"smarthouse-data/internal/tracker"

	"go.uber.org/zap"
)

const subjectAddress = "address"

// SettingsPatch 只替换给出的表（nil 表示不修改）
type SettingsPatch struct {
	Coordinators     *[]domain.Coordinator `json:"coordinators,omitempty"`
	Nationalities    *[]string             `json:"nationalities,omitempty"`
	Departments      *[]string             `json:"departments,omitempty"`
	Genders          *[]string             `json:"genders,omitempty"`
	Localities       *[]string             `json:"localities,omitempty"`
	PaymentTypes     *[]string             `json:"paymentTypesNZ,omitempty"`
	BokRoles         *[]string             `json:"bokRoles,omitempty"`
	BokReturnOptions *[]string             `json:"bokReturnOptions,omitempty"`
	BokStatuses      *[]string             `json:"bokStatuses,omitempty"`
}

func (p SettingsPatch) lists() map[string]*[]string {
	return map[string]*[]string{
		codec.TableNationalities:    p.Nationalities,
		codec.TableDepartments:      p.Departments,
		codec.TableGenders:          p.Genders,
		codec.TableLocalities:       p.Localities,
		codec.TablePaymentTypes:     p.PaymentTypes,
		codec.TableBokRoles:         p.BokRoles,
		codec.TableBokReturnOptions: p.BokReturnOptions,
		codec.TableBokStatuses:      p.BokStatuses,
	}
}

func settingsLists(s *domain.Settings) map[string]*[]string {
	return map[string]*[]string{
		codec.TableNationalities:    &s.Nationalities,
		codec.TableDepartments:      &s.Departments,
		codec.TableGenders:          &s.Genders,
		codec.TableLocalities:       &s.Localities,
		codec.TablePaymentTypes:     &s.PaymentTypes,
		codec.TableBokRoles:         &s.BokRoles,
		codec.TableBokReturnOptions: &s.BokReturnOptions,
		codec.TableBokStatuses:      &s.BokStatuses,
	}
}

// Settings 缓存的设置聚合（只读，调用方不要修改）
func (r *Repository) Settings(ctx context.Context) (*domain.Settings, error) {
	return r.settings.Get(ctx, r.loadSettings)
}

// InvalidateSettings 丢弃设置缓存
func (r *Repository) InvalidateSettings() { r.settings.Invalidate() }

func (r *Repository) loadSettings(ctx context.Context) (*domain.Settings, error) {
	addressRows, err := r.readTable(ctx, codec.TableAddresses)
	if err != nil {
		return nil, err
	}
	roomRows, err := r.readTable(ctx, codec.TableRooms)
	if err != nil {
		return nil, err
	}
	coordinatorRows, err := r.readTable(ctx, codec.TableCoordinators)
	if err != nil {
		return nil, err
	}

	s := &domain.Settings{
		Addresses:    joinRooms(codec.DecodeAll[domain.Address](r.codecs.Addresses, addressRows), codec.DecodeAll[codec.RoomRecord](r.codecs.Rooms, roomRows), r.logger),
		Coordinators: codec.DecodeAll[domain.Coordinator](r.codecs.Coordinators, coordinatorRows),
	}
	for table, dst := range settingsLists(s) {
		rows, err := r.readTable(ctx, table)
		if err != nil {
			return nil, err
		}
		*dst = codec.DecodeAll[string](r.codecs.NameList(table), rows)
	}
	return s, nil
}

// joinRooms 按 addressId 把房间挂到住址上；找不到住址的房间丢弃
func joinRooms(addresses []domain.Address, rooms []codec.RoomRecord, logger *zap.Logger) []domain.Address {
	index := make(map[string]int, len(addresses))
	for i := range addresses {
		addresses[i].Rooms = []domain.Room{}
		index[addresses[i].ID] = i
	}
	orphans := 0
	for _, rec := range rooms {
		i, ok := index[rec.AddressID]
		if !ok {
			orphans++
			continue
		}
		addresses[i].Rooms = append(addresses[i].Rooms, rec.Room)
	}
	if orphans > 0 {
		logger.Warn("rooms without address ignored", zap.Int("count", orphans))
	}
	return addresses
}

func roomRecords(a domain.Address) []codec.RoomRecord {
	out := make([]codec.RoomRecord, 0, len(a.Rooms))
	for _, room := range a.Rooms {
		out = append(out, codec.RoomRecord{AddressID: a.ID, Room: room})
	}
	return out
}

// roomsDisplay 房间列表的规范展示（用于变更比对）
func roomsDisplay(rooms []domain.Room) string {
	type view struct {
		Name     string `json:"name"`
		Capacity int    `json:"capacity"`
		IsActive bool   `json:"isActive"`
	}
	out := make([]view, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, view{Name: room.Name, Capacity: room.Capacity, IsActive: room.IsActive})
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// prepareAddress 校验住址并补全 id
func (r *Repository) prepareAddress(a *domain.Address) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return fmt.Errorf("%w: address without name", ErrInvalidRecord)
	}
	a.Locality = strings.TrimSpace(a.Locality)
	if a.ID == "" {
		a.ID = r.newID()
	}
	seen := make(map[string]struct{}, len(a.Rooms))
	for i := range a.Rooms {
		room := &a.Rooms[i]
		room.Name = strings.TrimSpace(room.Name)
		if room.Name == "" {
			return fmt.Errorf("%w: room without name in address %s", ErrInvalidRecord, a.Name)
		}
		if _, dup := seen[room.Name]; dup {
			return fmt.Errorf("%w: duplicate room %s in address %s", ErrInvalidRecord, room.Name, a.Name)
		}
		seen[room.Name] = struct{}{}
		if room.Capacity < 0 {
			return fmt.Errorf("%w: negative capacity for room %s", ErrInvalidRecord, room.Name)
		}
		if room.ID == "" {
			room.ID = r.newID()
		}
	}
	if a.Rooms == nil {
		a.Rooms = []domain.Room{}
	}
	return nil
}

// checkAddressName 住址名是人员关联的依据，必须唯一
func (r *Repository) checkAddressName(ctx context.Context, id, name string) error {
	rows, err := r.readTable(ctx, codec.TableAddresses)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.String("name") == name && row.String("id") != id {
			return fmt.Errorf("%w: address %q already exists", ErrInvalidRecord, name)
		}
	}
	return nil
}

func (r *Repository) ensureAddressTables(ctx context.Context) error {
	if err := r.ensure(ctx, r.codecs.Addresses.Schema()); err != nil {
		return err
	}
	return r.ensure(ctx, r.codecs.Rooms.Schema())
}

// AddAddress 新增住址及其房间
func (r *Repository) AddAddress(ctx context.Context, actor domain.Actor, a domain.Address) (*domain.Address, error) {
	if err := r.prepareAddress(&a); err != nil {
		return nil, err
	}
	if err := r.ensureAddressTables(ctx); err != nil {
		return nil, err
	}
	if err := r.checkAddressName(ctx, a.ID, a.Name); err != nil {
		return nil, err
	}

	if err := r.client.AddRow(ctx, codec.TableAddresses, r.codecs.Addresses.Encode(a)); err != nil {
		return nil, fmt.Errorf("add address: %w", err)
	}
	if err := r.client.AddRows(ctx, codec.TableRooms, r.encodeRooms(a)); err != nil {
		r.settings.Invalidate()
		return nil, fmt.Errorf("add rooms of address %s: %w", a.ID, err)
	}
	r.settings.Invalidate()

	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:   actor,
		Action:  tracker.ActionAdd,
		Subject: tracker.Subject{Type: subjectAddress, ID: a.ID, Name: a.Name},
	})
	return &a, nil
}

func (r *Repository) encodeRooms(a domain.Address) []sheets.Row {
	recs := roomRecords(a)
	rows := make([]sheets.Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, r.codecs.Rooms.Encode(rec))
	}
	return rows
}

// UpdateAddress 整体替换住址及其房间（房间全部重新写入）；改名时同步迁移人员的住址
func (r *Repository) UpdateAddress(ctx context.Context, actor domain.Actor, a domain.Address) (*domain.Address, error) {
	if a.ID == "" {
		return nil, fmt.Errorf("%w: address without id", ErrInvalidRecord)
	}
	if err := r.prepareAddress(&a); err != nil {
		return nil, err
	}
	if err := r.ensureAddressTables(ctx); err != nil {
		return nil, err
	}
	if err := r.checkAddressName(ctx, a.ID, a.Name); err != nil {
		return nil, err
	}

	roomRows, err := r.readTable(ctx, codec.TableRooms)
	if err != nil {
		return nil, err
	}
	var oldRooms []domain.Room
	for _, rec := range codec.DecodeAll[codec.RoomRecord](r.codecs.Rooms, roomRows) {
		if rec.AddressID == a.ID {
			oldRooms = append(oldRooms, rec.Room)
		}
	}

	var (
		prev    domain.Address
		changes []domain.NotificationChange
	)
	_, _, err = r.client.ModifyRow(ctx, codec.TableAddresses, sheets.ByColumn("id", a.ID), func(current sheets.Row) (sheets.Row, error) {
		prev, _ = r.codecs.Addresses.Decode(current)
		encoded := r.codecs.Addresses.Encode(a)
		changes = tracker.Diff(r.codecs.Addresses.Schema(), current, encoded)
		if len(changes) == 0 {
			return nil, nil
		}
		// 保留表头之外的旧列
		next := current.Clone()
		for k, v := range encoded {
			next[k] = v
		}
		return next, nil
	})
	if err != nil {
		return nil, notFound(err, subjectAddress, a.ID)
	}
	addressChanged := len(changes) > 0

	if before, after := roomsDisplay(oldRooms), roomsDisplay(a.Rooms); before != after {
		changes = append(changes, domain.NotificationChange{Field: "rooms", OldValue: before, NewValue: after})
		if err := r.client.ReplaceMatching(ctx, codec.TableRooms, sheets.ByColumn("addressId", a.ID), r.encodeRooms(a)); err != nil {
			r.settings.Invalidate()
			return nil, fmt.Errorf("replace rooms of address %s: %w", a.ID, err)
		}
	}
	if len(changes) == 0 {
		return &a, nil
	}
	r.settings.Invalidate()

	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:     actor,
		Action:    tracker.ActionUpdate,
		Subject:   tracker.Subject{Type: subjectAddress, ID: a.ID, Name: a.Name},
		Changes:   changes,
		Important: true,
	})

	if addressChanged && prev.Name != "" && prev.Name != a.Name {
		if err := r.relocatePeople(ctx, actor, prev.Name, a.Name); err != nil {
			return &a, err
		}
	}
	return &a, nil
}

// RemoveAddress 删除住址及其房间；人员上的住址名保持不变
func (r *Repository) RemoveAddress(ctx context.Context, actor domain.Actor, id string) error {
	deleted, err := r.client.DeleteRows(ctx, codec.TableAddresses, sheets.ByColumn("id", id))
	if err != nil {
		return notFound(err, subjectAddress, id)
	}
	if len(deleted) == 0 {
		return fmt.Errorf("%w: address %s", ErrNotFound, id)
	}
	_, roomErr := r.client.DeleteRows(ctx, codec.TableRooms, sheets.ByColumn("addressId", id))
	r.settings.Invalidate()
	if roomErr != nil && !errors.Is(roomErr, sheets.ErrTableNotFound) {
		return fmt.Errorf("remove rooms of address %s: %w", id, roomErr)
	}

	subject := tracker.Subject{Type: subjectAddress, ID: id}
	if prev, ok := r.codecs.Addresses.Decode(deleted[0]); ok {
		subject.Name = prev.Name
	}
	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:     actor,
		Action:    tracker.ActionRemove,
		Subject:   subject,
		Important: true,
	})
	return nil
}

// RenameAddress 显式改名：住址行改名，并通过正常的更新路径迁移所有人员的住址名
func (r *Repository) RenameAddress(ctx context.Context, actor domain.Actor, id, newName string) (*domain.Address, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, fmt.Errorf("%w: address without name", ErrInvalidRecord)
	}
	if err := r.checkAddressName(ctx, id, newName); err != nil {
		return nil, err
	}

	var prev, next domain.Address
	_, _, err := r.client.ModifyRow(ctx, codec.TableAddresses, sheets.ByColumn("id", id), func(current sheets.Row) (sheets.Row, error) {
		var ok bool
		if prev, ok = r.codecs.Addresses.Decode(current); !ok {
			return nil, fmt.Errorf("%w: stored address %s is unreadable", ErrInvalidRecord, id)
		}
		next = prev
		if prev.Name == newName {
			return nil, nil
		}
		next.Name = newName
		out := current.Clone()
		out["name"] = newName
		return out, nil
	})
	if err != nil {
		return nil, notFound(err, subjectAddress, id)
	}
	if prev.Name == newName {
		return &next, nil
	}
	r.settings.Invalidate()

	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:     actor,
		Action:    tracker.ActionRename,
		Subject:   tracker.Subject{Type: subjectAddress, ID: id, Name: newName},
		Changes:   []domain.NotificationChange{{Field: "name", OldValue: prev.Name, NewValue: newName}},
		Important: true,
	})

	if err := r.relocatePeople(ctx, actor, prev.Name, newName); err != nil {
		return &next, err
	}
	return &next, nil
}

func (r *Repository) relocatePeople(ctx context.Context, actor domain.Actor, from, to string) error {
	var errs []error
	moved := 0
	for _, relocate := range []func() (int, error){
		func() (int, error) { return r.employees.relocate(ctx, r, actor, from, to) },
		func() (int, error) { return r.nonEmployees.relocate(ctx, r, actor, from, to) },
		func() (int, error) { return r.bokResidents.relocate(ctx, r, actor, from, to) },
	} {
		n, err := relocate()
		moved += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("people relocated after address rename",
		zap.String("from", from),
		zap.String("to", to),
		zap.Int("moved", moved),
	)
	if len(errs) > 0 {
		return fmt.Errorf("relocate people from %q: %w", from, errors.Join(errs...))
	}
	return nil
}

// UpdateSettings 给出的每张表整体重写；内容未变化的表不写入
func (r *Repository) UpdateSettings(ctx context.Context, actor domain.Actor, p SettingsPatch) (*domain.Settings, error) {
	current, err := r.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	var changes []domain.NotificationChange

	if p.Coordinators != nil {
		next, err := normalizeCoordinators(*p.Coordinators)
		if err != nil {
			return nil, err
		}
		before, after := coordinatorsDisplay(current.Coordinators), coordinatorsDisplay(next)
		if before != after {
			rows := make([]sheets.Row, 0, len(next))
			for _, co := range next {
				rows = append(rows, r.codecs.Coordinators.Encode(co))
			}
			if err := r.replaceTable(ctx, r.codecs.Coordinators.Schema(), rows); err != nil {
				return nil, err
			}
			changes = append(changes, domain.NotificationChange{Field: "coordinators", OldValue: before, NewValue: after})
		}
	}

	currentLists := settingsLists(current)
	for _, table := range codec.NameListTables {
		list := p.lists()[table]
		if list == nil {
			continue
		}
		next := normalizeNames(*list)
		before, after := strings.Join(*currentLists[table], ", "), strings.Join(next, ", ")
		if before == after {
			continue
		}
		c := r.codecs.NameList(table)
		rows := make([]sheets.Row, 0, len(next))
		for _, name := range next {
			rows = append(rows, c.Encode(name))
		}
		if err := r.replaceTable(ctx, c.Schema(), rows); err != nil {
			return nil, err
		}
		changes = append(changes, domain.NotificationChange{Field: table, OldValue: before, NewValue: after})
	}

	if len(changes) == 0 {
		return current, nil
	}
	r.settings.Invalidate()
	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:     actor,
		Action:    tracker.ActionUpdate,
		Subject:   tracker.Subject{Type: "settings"},
		Changes:   changes,
		Important: true,
	})
	return r.Settings(ctx)
}

func (r *Repository) replaceTable(ctx context.Context, s codec.Schema, rows []sheets.Row) error {
	if err := r.ensure(ctx, s); err != nil {
		return err
	}
	if err := r.client.ReplaceRows(ctx, s.Table, rows); err != nil {
		r.settings.Invalidate()
		return fmt.Errorf("replace %s: %w", s.Table, err)
	}
	return nil
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, name := range in {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func normalizeCoordinators(in []domain.Coordinator) ([]domain.Coordinator, error) {
	out := make([]domain.Coordinator, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, co := range in {
		co.UID = strings.TrimSpace(co.UID)
		co.Name = strings.TrimSpace(co.Name)
		if co.UID == "" {
			return nil, fmt.Errorf("%w: coordinator without uid", ErrInvalidRecord)
		}
		if _, dup := seen[co.UID]; dup {
			return nil, fmt.Errorf("%w: duplicate coordinator %s", ErrInvalidRecord, co.UID)
		}
		seen[co.UID] = struct{}{}
		out = append(out, co)
	}
	return out, nil
}

func coordinatorsDisplay(cs []domain.Coordinator) string {
	parts := make([]string, 0, len(cs))
	for _, co := range cs {
		parts = append(parts, fmt.Sprintf("%s:%s:%t:%s", co.UID, co.Name, co.IsAdmin, co.Department))
	}
	return strings.Join(parts, ", ")
}
