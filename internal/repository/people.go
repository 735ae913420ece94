package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smarthouse-data/internal/cache"
	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/dates"
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/sheets"
	"smarthouse-data/internal/tracker"

	"go.uber.org/zap"
)

// PeopleFilter 列表过滤；零值字段不过滤
type PeopleFilter struct {
	CoordinatorID string
	Status        domain.Status
	Address       string
}

func (f PeopleFilter) matches(p *domain.Person) bool {
	if f.CoordinatorID != "" && p.CoordinatorID != f.CoordinatorID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Address != "" && p.Address != f.Address {
		return false
	}
	return true
}

// peopleTable 三类人员共用的集合逻辑
type peopleTable[T any] struct {
	kind   domain.Kind
	codec  codec.Codec[T]
	cache  *cache.Collection[T]
	person func(*T) *domain.Person
}

func newPeopleTable[T any](kind domain.Kind, c codec.Codec[T], person func(*T) *domain.Person, ttl time.Duration) *peopleTable[T] {
	return &peopleTable[T]{
		kind:   kind,
		codec:  c,
		cache:  cache.NewCollection[T](string(kind), ttl),
		person: person,
	}
}

func employeePerson(e *domain.Employee) *domain.Person       { return &e.Person }
func nonEmployeePerson(n *domain.NonEmployee) *domain.Person { return &n.Person }
func bokResidentPerson(b *domain.BokResident) *domain.Person { return &b.Person }

func (t *peopleTable[T]) table() string { return t.codec.Schema().Table }

func (t *peopleTable[T]) subject(v *T) tracker.Subject {
	p := t.person(v)
	return tracker.Subject{
		Type:          t.kind.Label(),
		ID:            p.ID,
		Name:          p.FullName(),
		CoordinatorID: p.CoordinatorID,
	}
}

// fetch 直接读远程（不经过缓存）
func (t *peopleTable[T]) fetch(ctx context.Context, r *Repository) ([]T, error) {
	rows, err := r.readTable(ctx, t.table())
	if err != nil {
		return nil, err
	}
	return codec.DecodeAll(t.codec, rows), nil
}

func (t *peopleTable[T]) list(ctx context.Context, r *Repository, f PeopleFilter) ([]T, error) {
	return t.cache.List(ctx, func(ctx context.Context) ([]T, error) {
		return t.fetch(ctx, r)
	}, func(v T) bool {
		return f.matches(t.person(&v))
	})
}

func (t *peopleTable[T]) get(ctx context.Context, r *Repository, id string) (*T, error) {
	all, err := t.list(ctx, r, PeopleFilter{})
	if err != nil {
		return nil, err
	}
	for i := range all {
		if t.person(&all[i]).ID == id {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotFound, t.kind, id)
}

func (t *peopleTable[T]) add(ctx context.Context, r *Repository, actor domain.Actor, v T) (*T, error) {
	p := t.person(&v)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.LastName == "" {
		return nil, fmt.Errorf("%w: %s without last name", ErrInvalidRecord, t.kind)
	}
	if p.Status == "" {
		p.Status = domain.StatusActive
	}

	if err := r.ensure(ctx, t.codec.Schema()); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = r.newID()
	} else {
		existing, err := r.readTable(ctx, t.table())
		if err != nil {
			return nil, err
		}
		for _, row := range existing {
			if row.String("id") == p.ID {
				return nil, fmt.Errorf("%w: duplicate %s id %s", ErrInvalidRecord, t.kind, p.ID)
			}
		}
	}

	row := t.codec.Encode(v)
	if err := r.client.AddRow(ctx, t.table(), row); err != nil {
		return nil, fmt.Errorf("add %s: %w", t.kind, err)
	}
	t.cache.Invalidate()

	stored, ok := t.codec.Decode(row)
	if !ok {
		stored = v
	}
	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:   actor,
		Action:  tracker.ActionAdd,
		Subject: t.subject(&stored),
	})
	return &stored, nil
}

// adjustFunc 在合并补丁之前按当前存储的行扩展补丁
type adjustFunc func(current sheets.Row, patch Patch, today time.Time) Patch

type updateResult[T any] struct {
	before  T
	after   T
	changes []domain.NotificationChange
}

// update 单次 读-改-写：合并补丁 -> 解码校验 -> 重新编码 -> 比对；无变化不写入、不通知
func (t *peopleTable[T]) update(ctx context.Context, r *Repository, actor domain.Actor, id string, patch Patch, adjust adjustFunc) (*updateResult[T], error) {
	schema := t.codec.Schema()
	patch, err := validatePatch(schema, id, patch)
	if err != nil {
		return nil, err
	}
	if err := r.ensure(ctx, schema); err != nil {
		return nil, err
	}

	res := &updateResult[T]{}
	_, _, err = r.client.ModifyRow(ctx, t.table(), sheets.ByColumn("id", id), func(current sheets.Row) (sheets.Row, error) {
		prev, ok := t.codec.Decode(current)
		if !ok {
			return nil, fmt.Errorf("%w: stored %s %s is unreadable", ErrInvalidRecord, t.kind, id)
		}
		res.before = prev

		effective := patch
		if adjust != nil {
			effective = adjust(current, patch, r.today())
		}
		merged := current.Clone()
		for k, v := range effective {
			merged[k] = v
		}
		next, ok := t.codec.Decode(merged)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrInvalidRecord, t.kind, id)
		}
		encoded := t.codec.Encode(next)
		res.after = next
		res.changes = tracker.Diff(schema, current, pick(encoded, effective))
		if len(res.changes) == 0 {
			return nil, nil
		}
		// 保留表头之外的旧列（如 fullName）；未修改且解码失败的单元格保留原文
		out := current.Clone()
		for k, v := range encoded {
			if _, touched := effective[k]; !touched && unreadable(schema, current, k, v) {
				continue
			}
			out[k] = v
		}
		return out, nil
	})
	if err != nil {
		return nil, notFound(err, string(t.kind), id)
	}
	if len(res.changes) == 0 {
		return res, nil
	}

	t.cache.Invalidate()
	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:     actor,
		Action:    tracker.ActionUpdate,
		Subject:   t.subject(&res.after),
		Changes:   res.changes,
		Important: changed(res.changes, "address"),
	})
	return res, nil
}

func (t *peopleTable[T]) remove(ctx context.Context, r *Repository, actor domain.Actor, id string) error {
	deleted, err := r.client.DeleteRows(ctx, t.table(), sheets.ByColumn("id", id))
	if err != nil {
		return notFound(err, string(t.kind), id)
	}
	if len(deleted) == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, t.kind, id)
	}
	if len(deleted) > 1 {
		r.logger.Warn("duplicate rows removed", zap.String("table", t.table()), zap.String("id", id), zap.Int("count", len(deleted)))
	}
	t.cache.Invalidate()

	subject := tracker.Subject{Type: t.kind.Label(), ID: id}
	if prev, ok := t.codec.Decode(deleted[0]); ok {
		subject = t.subject(&prev)
	}
	r.tracker.RecordMutation(ctx, tracker.Mutation{
		Actor:     actor,
		Action:    tracker.ActionRemove,
		Subject:   subject,
		Important: true,
	})
	return nil
}

// refresh 把退房日期早于今天的在住人员标记为 dismissed
func (t *peopleTable[T]) refresh(ctx context.Context, r *Repository, actor domain.Actor, today time.Time) (int, error) {
	all, err := t.fetch(ctx, r)
	if err != nil {
		return 0, err
	}
	var (
		updated int
		errs    []error
	)
	for i := range all {
		p := t.person(&all[i])
		if !p.IsActive() || !p.CheckedOutBefore(today) {
			continue
		}
		res, err := t.update(ctx, r, actor, p.ID, Patch{"status": string(domain.StatusDismissed)}, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", t.kind, p.ID, err))
			continue
		}
		if len(res.changes) > 0 {
			updated++
		}
	}
	return updated, errors.Join(errs...)
}

// relocate 把住址名 from 的所有人员迁移到 to（住址改名）
func (t *peopleTable[T]) relocate(ctx context.Context, r *Repository, actor domain.Actor, from, to string) (int, error) {
	all, err := t.fetch(ctx, r)
	if err != nil {
		return 0, err
	}
	var (
		moved int
		errs  []error
	)
	for i := range all {
		p := t.person(&all[i])
		if p.Address != from {
			continue
		}
		if _, err := t.update(ctx, r, actor, p.ID, Patch{"address": to}, nil); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", t.kind, p.ID, err))
			continue
		}
		moved++
	}
	return moved, errors.Join(errs...)
}

// validatePatch 未知列、修改 id、无法解析的类型化值都拒绝；返回去掉 id 的副本
func validatePatch(schema codec.Schema, id string, patch Patch) (Patch, error) {
	out := make(Patch, len(patch))
	for k, v := range patch {
		c, ok := schema.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q for %s", ErrInvalidRecord, k, schema.Table)
		}
		if !codec.Parses(c, v) {
			return nil, fmt.Errorf("%w: %s value %v for column %q", ErrInvalidRecord, c.Kind, v, k)
		}
		if k == "id" {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != id {
				return nil, fmt.Errorf("%w: id cannot be changed", ErrInvalidRecord)
			}
			continue
		}
		out[k] = v
	}
	return out, nil
}

// unreadable 存储的非空单元格经解码/编码后变了样（如无法解析的日期被清空）
func unreadable(schema codec.Schema, current sheets.Row, k string, encoded any) bool {
	c, ok := schema.Column(k)
	if !ok || current.String(k) == "" {
		return false
	}
	return codec.Display(c, current[k]) != codec.Display(c, encoded)
}

func pick(row sheets.Row, keys Patch) map[string]any {
	out := make(map[string]any, len(keys))
	for k := range keys {
		out[k] = row[k]
	}
	return out
}

func changed(changes []domain.NotificationChange, field string) bool {
	for _, c := range changes {
		if c.Field == field {
			return true
		}
	}
	return false
}

// employeeAddressMove 员工换址时记录旧地址与换址日期（调用方显式给出的值优先）
func employeeAddressMove(current sheets.Row, patch Patch, today time.Time) Patch {
	next, ok := patch["address"]
	if !ok {
		return patch
	}
	col, _ := codec.EmployeeSchema.Column("address")
	if codec.Display(col, current["address"]) == codec.Display(col, next) {
		return patch
	}
	out := make(Patch, len(patch)+2)
	for k, v := range patch {
		out[k] = v
	}
	if _, set := patch["oldAddress"]; !set {
		out["oldAddress"] = current.String("address")
	}
	if _, set := patch["addressChangeDate"]; !set {
		out["addressChangeDate"] = dates.Format(today)
	}
	return out
}

// ---- employees ----

// ListEmployees 缓存读取
func (r *Repository) ListEmployees(ctx context.Context, f PeopleFilter) ([]domain.Employee, error) {
	return r.employees.list(ctx, r, f)
}

func (r *Repository) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	return r.employees.get(ctx, r, id)
}

func (r *Repository) AddEmployee(ctx context.Context, actor domain.Actor, e domain.Employee) (*domain.Employee, error) {
	return r.employees.add(ctx, r, actor, e)
}

// UpdateEmployee 换址时额外记录 oldAddress / addressChangeDate，并追加一条换址历史
func (r *Repository) UpdateEmployee(ctx context.Context, actor domain.Actor, id string, patch Patch) (*domain.Employee, error) {
	res, err := r.employees.update(ctx, r, actor, id, patch, employeeAddressMove)
	if err != nil {
		return nil, err
	}
	if changed(res.changes, "address") && res.before.Address != "" {
		r.recordAddressChange(ctx, res.before, r.today())
	}
	return &res.after, nil
}

func (r *Repository) RemoveEmployee(ctx context.Context, actor domain.Actor, id string) error {
	return r.employees.remove(ctx, r, actor, id)
}

func (r *Repository) InvalidateEmployees() { r.employees.cache.Invalidate() }

// ---- non-employees ----

func (r *Repository) ListNonEmployees(ctx context.Context, f PeopleFilter) ([]domain.NonEmployee, error) {
	return r.nonEmployees.list(ctx, r, f)
}

func (r *Repository) GetNonEmployee(ctx context.Context, id string) (*domain.NonEmployee, error) {
	return r.nonEmployees.get(ctx, r, id)
}

func (r *Repository) AddNonEmployee(ctx context.Context, actor domain.Actor, n domain.NonEmployee) (*domain.NonEmployee, error) {
	return r.nonEmployees.add(ctx, r, actor, n)
}

func (r *Repository) UpdateNonEmployee(ctx context.Context, actor domain.Actor, id string, patch Patch) (*domain.NonEmployee, error) {
	res, err := r.nonEmployees.update(ctx, r, actor, id, patch, nil)
	if err != nil {
		return nil, err
	}
	return &res.after, nil
}

func (r *Repository) RemoveNonEmployee(ctx context.Context, actor domain.Actor, id string) error {
	return r.nonEmployees.remove(ctx, r, actor, id)
}

func (r *Repository) InvalidateNonEmployees() { r.nonEmployees.cache.Invalidate() }

// ---- BOK residents ----

func (r *Repository) ListBokResidents(ctx context.Context, f PeopleFilter) ([]domain.BokResident, error) {
	return r.bokResidents.list(ctx, r, f)
}

func (r *Repository) GetBokResident(ctx context.Context, id string) (*domain.BokResident, error) {
	return r.bokResidents.get(ctx, r, id)
}

func (r *Repository) AddBokResident(ctx context.Context, actor domain.Actor, b domain.BokResident) (*domain.BokResident, error) {
	return r.bokResidents.add(ctx, r, actor, b)
}

func (r *Repository) UpdateBokResident(ctx context.Context, actor domain.Actor, id string, patch Patch) (*domain.BokResident, error) {
	res, err := r.bokResidents.update(ctx, r, actor, id, patch, nil)
	if err != nil {
		return nil, err
	}
	return &res.after, nil
}

func (r *Repository) RemoveBokResident(ctx context.Context, actor domain.Actor, id string) error {
	return r.bokResidents.remove(ctx, r, actor, id)
}

func (r *Repository) InvalidateBokResidents() { r.bokResidents.cache.Invalidate() }

// ---- status sweep ----

// RefreshResult 状态扫描结果
type RefreshResult struct {
	UpdatedCount int `json:"updatedCount"`
}

// RefreshStatuses 三类人员中退房日期已过的在住人员改为 dismissed，操作者标记为自动流程。
// 单条失败不影响其余条目，所有失败合并返回。
func (r *Repository) RefreshStatuses(ctx context.Context, actorID string) (RefreshResult, error) {
	actor := domain.SystemActor(actorID)
	today := r.today()

	var (
		res  RefreshResult
		errs []error
	)
	for _, sweep := range []func() (int, error){
		func() (int, error) { return r.employees.refresh(ctx, r, actor, today) },
		func() (int, error) { return r.nonEmployees.refresh(ctx, r, actor, today) },
		func() (int, error) { return r.bokResidents.refresh(ctx, r, actor, today) },
	} {
		n, err := sweep()
		res.UpdatedCount += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("status refresh finished",
		zap.String("actor_id", actorID),
		zap.Int("updated", res.UpdatedCount),
		zap.Int("failed", len(errs)),
	)
	return res, errors.Join(errs...)
}
