package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/sheets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedBackend 内存表格 + 可编排的配额错误和写入钩子
type scriptedBackend struct {
	*sheets.MemoryBackend

	mu          sync.Mutex
	appendQuota map[string]int
	appends     map[string]int
	beforeWrite func(table string)
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		MemoryBackend: sheets.NewMemoryBackend(),
		appendQuota:   map[string]int{},
		appends:       map[string]int{},
	}
}

func (b *scriptedBackend) AppendRows(ctx context.Context, table string, rows []sheets.Row) error {
	b.mu.Lock()
	if b.appendQuota[table] > 0 {
		b.appendQuota[table]--
		b.mu.Unlock()
		return sheets.ErrQuotaExceeded
	}
	b.appends[table]++
	b.mu.Unlock()
	return b.MemoryBackend.AppendRows(ctx, table, rows)
}

func (b *scriptedBackend) WriteRow(ctx context.Context, table string, handle int64, row sheets.Row) error {
	b.mu.Lock()
	hook := b.beforeWrite
	b.beforeWrite = nil
	b.mu.Unlock()
	if hook != nil {
		hook(table)
	}
	return b.MemoryBackend.WriteRow(ctx, table, handle, row)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturePublisher struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (p *capturePublisher) Publish(ctx context.Context, n *domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, *n)
	return nil
}

var coordinator = domain.Actor{UID: "c1", Name: "Anna Kowal"}

type fixture struct {
	repo    *Repository
	gw      *sheets.Gateway
	backend *scriptedBackend
	clock   *testClock
	pub     *capturePublisher
}

func newGateway(b sheets.Backend) *sheets.Gateway {
	return sheets.NewGateway(b, sheets.Options{
		CallTimeout:    time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		SessionTTL:     time.Minute,
	}, zap.NewNop()).WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
}

func newFixtureOn(t *testing.T, backend *scriptedBackend) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
	pub := &capturePublisher{}
	gw := newGateway(backend)
	repo := New(gw, codec.NewRegistry(zap.NewNop()), Options{}, pub, zap.NewNop()).WithClock(clock.Now)
	return &fixture{repo: repo, gw: gw, backend: backend, clock: clock, pub: pub}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixtureOn(t, newScriptedBackend())
	f.seed(t, codec.CoordinatorSchema,
		sheets.Row{"uid": "c1", "name": "Anna Kowal", "isAdmin": "FALSE", "department": "Logistyka"},
		sheets.Row{"uid": "admin", "name": "Piotr Admin", "isAdmin": "TRUE"},
	)
	return f
}

func (f *fixture) seed(t *testing.T, s codec.Schema, rows ...sheets.Row) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.gw.EnsureHeaders(ctx, s.Table, s.Headers()))
	if len(rows) > 0 {
		require.NoError(t, f.gw.AddRows(ctx, s.Table, rows))
	}
}

func employeeRow(id, last, status string) sheets.Row {
	return sheets.Row{
		"id":            id,
		"firstName":     "Jan",
		"lastName":      last,
		"coordinatorId": "c1",
		"address":       "Długa 1",
		"roomNumber":    "1",
		"checkInDate":   "2024-01-10",
		"status":        status,
	}
}

func (f *fixture) storedRows(t *testing.T, table string) []sheets.Row {
	t.Helper()
	rows, err := f.gw.GetRows(context.Background(), table)
	require.NoError(t, err)
	return rows
}

func TestUpdateEmployee_StatusChangeNotifies(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	ctx := context.Background()

	// 先把旧状态读进缓存
	list, err := f.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, domain.StatusActive, list[0].Status)

	e, err := f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"status": "dismissed"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDismissed, e.Status)

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	n := notifications[0]
	assert.Equal(t, "Anna Kowal updated employee Jan Nowak.", n.Message)
	assert.Equal(t, "c1", n.RecipientID)
	assert.Equal(t, []domain.NotificationChange{{Field: "status", OldValue: "active", NewValue: "dismissed"}}, n.Changes)

	audit, err := f.repo.ListAuditLog(ctx, AuditFilter{TargetID: "e1"})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "update", audit[0].Action)
	assert.Equal(t, "employee", audit[0].TargetType)

	require.Len(t, f.pub.sent, 1)

	// 写入后缓存已失效
	list, err = f.repo.ListEmployees(ctx, PeopleFilter{Status: domain.StatusDismissed})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateEmployee_NoChangeSkipsWrite(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	ctx := context.Background()

	f.backend.beforeWrite = func(string) { t.Fatal("no write expected") }
	_, err := f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"status": "active", "checkInDate": "10-01-2024", "roomNumber": 1})
	require.NoError(t, err)

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestUpdateEmployee_RejectsInvalidPatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	ctx := context.Background()

	_, err := f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"salary": 100})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"id": "e2"})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"lastName": " "})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = f.repo.UpdateEmployee(ctx, coordinator, "missing", Patch{"comments": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddEmployee_QuotaRetriedWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema)
	ctx := context.Background()

	f.backend.appendQuota[codec.TableEmployees] = 2
	e, err := f.repo.AddEmployee(ctx, coordinator, domain.Employee{Person: domain.Person{FirstName: "Jan", LastName: "Nowak", CoordinatorID: "c1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, domain.StatusActive, e.Status)

	assert.Equal(t, 1, f.backend.appends[codec.TableEmployees])
	assert.Len(t, f.storedRows(t, codec.TableEmployees), 1)

	list, err := f.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, e.ID, list[0].ID)
}

func TestAddEmployee_Validation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	ctx := context.Background()

	_, err := f.repo.AddEmployee(ctx, coordinator, domain.Employee{Person: domain.Person{FirstName: "Jan"}})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = f.repo.AddEmployee(ctx, coordinator, domain.Employee{Person: domain.Person{ID: "e1", LastName: "Kowal"}})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestListEmployees_ServedFromCacheUntilTTL(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	ctx := context.Background()

	list, err := f.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	// 绕过仓储直接写远程
	require.NoError(t, f.gw.AddRow(ctx, codec.TableEmployees, employeeRow("e2", "Kowalski", "active")))

	list, err = f.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1, "snapshot still fresh")

	f.clock.Advance(61 * time.Second)
	list, err = f.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, f.gw.AddRow(ctx, codec.TableEmployees, employeeRow("e3", "Wiśniewski", "active")))
	f.repo.InvalidateEmployees()
	list, err = f.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestListEmployees_Filters(t *testing.T) {
	f := newFixture(t)
	other := employeeRow("e2", "Kowalski", "dismissed")
	other["coordinatorId"] = "c2"
	other["address"] = "Morska 5"
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"), other)
	ctx := context.Background()

	list, err := f.repo.ListEmployees(ctx, PeopleFilter{CoordinatorID: "c1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e1", list[0].ID)

	list, err = f.repo.ListEmployees(ctx, PeopleFilter{Address: "Morska 5", Status: domain.StatusDismissed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e2", list[0].ID)

	got, err := f.repo.GetEmployee(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, "Kowalski", got.LastName)

	_, err = f.repo.GetEmployee(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateEmployee_AddressChangeRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	ctx := context.Background()

	e, err := f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"address": "Morska 5", "roomNumber": "2"})
	require.NoError(t, err)
	assert.Equal(t, "Morska 5", e.Address)
	assert.Equal(t, "Długa 1", e.OldAddress)
	require.NotNil(t, e.AddressChangeDate)
	assert.Equal(t, "2024-03-15", e.AddressChangeDate.Format("2006-01-02"))

	history, err := f.repo.ListAddressHistory(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	h := history[0]
	assert.Equal(t, "Długa 1", h.Address)
	assert.Equal(t, "Anna Kowal", h.CoordinatorName)
	assert.Equal(t, "Logistyka", h.Department)
	require.NotNil(t, h.CheckInDate)
	assert.Equal(t, "2024-01-10", h.CheckInDate.Format("2006-01-02"))
	require.NotNil(t, h.CheckOutDate)
	assert.Equal(t, "2024-03-15", h.CheckOutDate.Format("2006-01-02"))

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{RecipientID: "someone-else"})
	require.NoError(t, err)
	require.Len(t, notifications, 1, "address changes are broadcast")
	assert.Equal(t, domain.RecipientBroadcast, notifications[0].RecipientID)

	require.NoError(t, f.repo.RemoveAddressHistory(ctx, coordinator, h.ID))
	history, err = f.repo.ListAddressHistory(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.ErrorIs(t, f.repo.RemoveAddressHistory(ctx, coordinator, h.ID), ErrNotFound)
}

func TestRemoveEmployee(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"), employeeRow("e2", "Kowalski", "active"))
	ctx := context.Background()

	require.NoError(t, f.repo.RemoveEmployee(ctx, coordinator, "e1"))
	list, err := f.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e2", list[0].ID)

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "Anna Kowal removed employee Jan Nowak.", notifications[0].Message)
	assert.Equal(t, domain.NotificationDestructive, notifications[0].Type)
	assert.Equal(t, domain.RecipientBroadcast, notifications[0].RecipientID)

	assert.ErrorIs(t, f.repo.RemoveEmployee(ctx, coordinator, "e1"), ErrNotFound)
}

func TestUnknownActorStillWrites(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	ctx := context.Background()

	_, err := f.repo.UpdateEmployee(ctx, domain.Actor{UID: "ghost"}, "e1", Patch{"comments": "late"})
	require.NoError(t, err)
	assert.Equal(t, "late", f.storedRows(t, codec.TableEmployees)[0]["comments"])

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestNonEmployeeAndBokLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	amount := 450.5
	n, err := f.repo.AddNonEmployee(ctx, coordinator, domain.NonEmployee{
		Person:        domain.Person{FirstName: "Olga", LastName: "Ivanova", CoordinatorID: "c1"},
		PaymentType:   "cash",
		PaymentAmount: &amount,
	})
	require.NoError(t, err)
	n2, err := f.repo.UpdateNonEmployee(ctx, coordinator, n.ID, Patch{"paymentAmount": "450,50"})
	require.NoError(t, err)
	assert.Equal(t, 450.5, *n2.PaymentAmount)

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, notifications, 1, "decimal comma is the same number, only the add is reported")

	b, err := f.repo.AddBokResident(ctx, coordinator, domain.BokResident{Person: domain.Person{FirstName: "Ali", LastName: "Khan"}, Role: "driver"})
	require.NoError(t, err)
	b2, err := f.repo.UpdateBokResident(ctx, coordinator, b.ID, Patch{"role": "cook"})
	require.NoError(t, err)
	assert.Equal(t, "cook", b2.Role)

	require.NoError(t, f.repo.RemoveNonEmployee(ctx, coordinator, n.ID))
	require.NoError(t, f.repo.RemoveBokResident(ctx, coordinator, b.ID))
	left, err := f.repo.ListBokResidents(ctx, PeopleFilter{})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRefreshStatuses(t *testing.T) {
	f := newFixture(t)
	past := employeeRow("e1", "Nowak", "active")
	past["checkOutDate"] = "2024-03-14"
	today := employeeRow("e2", "Kowalski", "active")
	today["checkOutDate"] = "2024-03-15"
	gone := employeeRow("e3", "Zieliński", "dismissed")
	gone["checkOutDate"] = "2024-01-01"
	f.seed(t, codec.EmployeeSchema, past, today, gone, employeeRow("e4", "Lewandowski", "active"))
	f.seed(t, codec.NonEmployeeSchema, sheets.Row{"id": "n1", "firstName": "Olga", "lastName": "Ivanova", "checkOutDate": "01-03-2024", "status": "active"})
	f.seed(t, codec.BokResidentSchema)
	ctx := context.Background()

	res, err := f.repo.RefreshStatuses(ctx, "system")
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedCount)

	dismissed, err := f.repo.ListEmployees(ctx, PeopleFilter{Status: domain.StatusDismissed})
	require.NoError(t, err)
	assert.Len(t, dismissed, 2)

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	for _, n := range notifications {
		assert.Contains(t, n.Message, "automatic process updated")
		assert.Equal(t, domain.NotificationWarning, n.Type)
	}
	audit, err := f.repo.ListAuditLog(ctx, AuditFilter{ActorID: "system"})
	require.NoError(t, err)
	assert.Len(t, audit, 2)

	res, err = f.repo.RefreshStatuses(ctx, "system")
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedCount, "second run is a no-op")
}

func TestAddressLifecycleAndOccupancy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"), employeeRow("e2", "Kowalski", "dismissed"))
	ctx := context.Background()

	a, err := f.repo.AddAddress(ctx, coordinator, domain.Address{
		Name:           "Długa 1",
		Locality:       "Gdańsk",
		CoordinatorIDs: []string{"c1"},
		IsActive:       true,
		Rooms: []domain.Room{
			{Name: "1", Capacity: 2, IsActive: true},
			{Name: "2", Capacity: 3, IsActive: true},
		},
	})
	require.NoError(t, err)
	_, err = f.repo.AddAddress(ctx, coordinator, domain.Address{Name: "Bez pokoi", IsActive: true, CoordinatorIDs: []string{"c2"}})
	require.NoError(t, err)

	_, err = f.repo.AddAddress(ctx, coordinator, domain.Address{Name: "Długa 1"})
	assert.ErrorIs(t, err, ErrInvalidRecord, "address names are unique")

	s, err := f.repo.Settings(ctx)
	require.NoError(t, err)
	require.Len(t, s.Addresses, 2)
	assert.Len(t, s.Addresses[0].Rooms, 2)

	view, err := f.repo.Occupancy(ctx, "")
	require.NoError(t, err)
	require.Len(t, view.Addresses, 2)
	assert.Equal(t, 1, view.Addresses[0].Occupied)
	assert.Equal(t, 4, *view.Addresses[0].Available)
	assert.True(t, view.Addresses[1].Unbounded())
	assert.Nil(t, view.Totals.Available)

	scoped, err := f.repo.Occupancy(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, scoped.Addresses, 1)

	// 房间整体重写
	a.Rooms = []domain.Room{{Name: "1", Capacity: 1, IsActive: true}}
	_, err = f.repo.UpdateAddress(ctx, coordinator, *a)
	require.NoError(t, err)
	assert.Len(t, f.storedRows(t, codec.TableRooms), 1)
	view, err = f.repo.Occupancy(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, *view.Addresses[0].Available)

	// 改名：人员住址同步迁移，不记为员工换址
	renamed, err := f.repo.RenameAddress(ctx, coordinator, a.ID, "Długa 1A")
	require.NoError(t, err)
	assert.Equal(t, "Długa 1A", renamed.Name)
	e, err := f.repo.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Długa 1A", e.Address)
	assert.Empty(t, e.OldAddress)
	history, err := f.repo.ListAddressHistory(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, history)

	view, err = f.repo.Occupancy(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Addresses[0].Occupied)

	require.NoError(t, f.repo.RemoveAddress(ctx, coordinator, a.ID))
	assert.Empty(t, f.storedRows(t, codec.TableRooms))
	assert.ErrorIs(t, f.repo.RemoveAddress(ctx, coordinator, a.ID), ErrNotFound)
	_, err = f.repo.RenameAddress(ctx, coordinator, a.ID, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.NameListSchema(codec.TableNationalities), sheets.Row{"name": "PL"}, sheets.Row{"name": "UA"})
	ctx := context.Background()

	nationalities := []string{"PL", " UA ", "GE", "PL", ""}
	genders := []string{"F", "M"}
	s, err := f.repo.UpdateSettings(ctx, coordinator, SettingsPatch{Nationalities: &nationalities, Genders: &genders})
	require.NoError(t, err)
	assert.Equal(t, []string{"PL", "UA", "GE"}, s.Nationalities)
	assert.Equal(t, []string{"F", "M"}, s.Genders)
	assert.Len(t, s.Coordinators, 2, "untouched tables stay")

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "Anna Kowal updated settings.", notifications[0].Message)
	assert.Len(t, notifications[0].Changes, 2)

	coordinators := []domain.Coordinator{{UID: "c1", Name: "Anna Kowal"}, {UID: "c1"}}
	_, err = f.repo.UpdateSettings(ctx, coordinator, SettingsPatch{Coordinators: &coordinators})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestNotificationsVisibilityAndRead(t *testing.T) {
	f := newFixture(t)
	ts := func(min int) string {
		return time.Date(2024, 3, 15, 9, min, 0, 0, time.UTC).Format(time.RFC3339)
	}
	f.seed(t, codec.NotificationSchema,
		sheets.Row{"id": "n1", "message": "a", "recipientId": "c1", "createdAt": ts(1), "isRead": "FALSE"},
		sheets.Row{"id": "n2", "message": "b", "recipientId": "broadcast", "createdAt": ts(3), "isRead": "FALSE"},
		sheets.Row{"id": "n3", "message": "c", "recipientId": "c2", "createdAt": ts(2), "isRead": "FALSE"},
	)
	ctx := context.Background()

	mine, err := f.repo.ListNotifications(ctx, NotificationFilter{RecipientID: "c1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "n2", mine[0].ID, "newest first")
	assert.Equal(t, "n1", mine[1].ID)

	require.NoError(t, f.repo.MarkNotificationRead(ctx, "n1"))
	unread, err := f.repo.ListNotifications(ctx, NotificationFilter{RecipientID: "c1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n2", unread[0].ID)

	marked, err := f.repo.MarkAllNotificationsRead(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 2, marked)
	unread, err = f.repo.ListNotifications(ctx, NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)

	assert.ErrorIs(t, f.repo.MarkNotificationRead(ctx, "missing"), ErrNotFound)
}

func TestCrossInstance_LastWriteWins(t *testing.T) {
	backend := newScriptedBackend()
	a := newFixtureOn(t, backend)
	a.seed(t, codec.CoordinatorSchema, sheets.Row{"uid": "c1", "name": "Anna Kowal"})
	a.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	b := newFixtureOn(t, backend)
	ctx := context.Background()

	// b 的缓存先拿到旧快照
	before, err := b.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	require.Len(t, before, 1)

	// a 读完、写回之前，b 完成了自己的更新
	backend.beforeWrite = func(table string) {
		_, err := b.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"comments": "from b"})
		require.NoError(t, err)
	}
	_, err = a.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"status": "dismissed"})
	require.NoError(t, err)

	rows := a.storedRows(t, codec.TableEmployees)
	require.Len(t, rows, 1)
	assert.Equal(t, "dismissed", rows[0]["status"])
	assert.Equal(t, "", rows[0]["comments"], "a overwrote the whole row with what it had read")

	// 另一实例在 TTL 到期前可以看到旧值
	c := newFixtureOn(t, backend)
	warm, err := c.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	_, err = a.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"comments": "final"})
	require.NoError(t, err)
	stale, err := c.repo.ListEmployees(ctx, PeopleFilter{})
	require.NoError(t, err)
	assert.Equal(t, warm[0].Comments, stale[0].Comments)
	assert.NotEqual(t, "final", stale[0].Comments)
}

func TestRetryableErrorsReexported(t *testing.T) {
	err := &sheets.RemoteError{Op: "read", Table: codec.TableEmployees, Err: sheets.ErrQuotaExceeded}
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.False(t, IsRetryable(ErrNotFound))
}

func TestUpdateEmployee_RejectsUnparseableTypedValues(t *testing.T) {
	f := newFixture(t)
	f.seed(t, codec.EmployeeSchema, employeeRow("e1", "Nowak", "active"))
	ctx := context.Background()

	f.backend.beforeWrite = func(string) { t.Fatal("no write expected") }
	for _, patch := range []Patch{
		{"checkInDate": "31.31.2024"},
		{"status": "retired"},
		{"depositReturned": "maybe"},
	} {
		_, err := f.repo.UpdateEmployee(ctx, coordinator, "e1", patch)
		assert.ErrorIs(t, err, ErrInvalidRecord, "%v", patch)
	}
	f.backend.beforeWrite = nil

	rows := f.storedRows(t, codec.TableEmployees)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-10", rows[0].String("checkInDate"))
	assert.Equal(t, "active", rows[0].String("status"))

	// 空值表示清空，允许
	e, err := f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"checkOutDate": ""})
	require.NoError(t, err)
	assert.Nil(t, e.CheckOutDate)

	_, err = f.repo.UpdateNonEmployee(ctx, coordinator, "missing", Patch{"paymentAmount": "dużo"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestUpdateEmployee_KeepsUnreadableCellsOfOtherColumns(t *testing.T) {
	f := newFixture(t)
	row := employeeRow("e1", "Nowak", "active")
	row["checkInDate"] = "15/3/24 rano"
	f.seed(t, codec.EmployeeSchema, row)
	ctx := context.Background()

	_, err := f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"comments": "x"})
	require.NoError(t, err)

	rows := f.storedRows(t, codec.TableEmployees)
	require.Len(t, rows, 1)
	assert.Equal(t, "15/3/24 rano", rows[0].String("checkInDate"))
	assert.Equal(t, "x", rows[0].String("comments"))

	notifications, err := f.repo.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, []domain.NotificationChange{{Field: "comments", OldValue: "", NewValue: "x"}}, notifications[0].Changes)

	// 显式修改该列时正常覆盖
	_, err = f.repo.UpdateEmployee(ctx, coordinator, "e1", Patch{"checkInDate": "16.03.2024"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-16", f.storedRows(t, codec.TableEmployees)[0].String("checkInDate"))
}

func TestUpdateSettings_QuotaKeepsExistingRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.appendQuota[codec.TableCoordinators] = 4
	coordinators := []domain.Coordinator{{UID: "c1", Name: "Anna Kowal"}, {UID: "c2", Name: "Ola Nowa"}}
	_, err := f.repo.UpdateSettings(ctx, coordinator, SettingsPatch{Coordinators: &coordinators})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	rows := f.storedRows(t, codec.TableCoordinators)
	require.Len(t, rows, 2)
	assert.Equal(t, "c1", rows[0].String("uid"))
	assert.Equal(t, "admin", rows[1].String("uid"))

	// 配额恢复后替换成功
	s, err := f.repo.UpdateSettings(ctx, coordinator, SettingsPatch{Coordinators: &coordinators})
	require.NoError(t, err)
	assert.Len(t, s.Coordinators, 2)
	rows = f.storedRows(t, codec.TableCoordinators)
	require.Len(t, rows, 2)
	assert.Equal(t, "c2", rows[1].String("uid"))
}

func TestUpdateAddress_KeepsLegacyColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.repo.AddAddress(ctx, coordinator, domain.Address{
		Name:     "Długa 1",
		Locality: "Gdańsk",
		IsActive: true,
		Rooms:    []domain.Room{{Name: "1", Capacity: 2, IsActive: true}},
	})
	require.NoError(t, err)

	headers := append(codec.AddressSchema.Headers(), "legacyNote")
	require.NoError(t, f.gw.EnsureHeaders(ctx, codec.TableAddresses, headers))
	_, _, err = f.gw.ModifyRow(ctx, codec.TableAddresses, sheets.ByColumn("id", a.ID), func(current sheets.Row) (sheets.Row, error) {
		next := current.Clone()
		next["legacyNote"] = "stary wpis"
		return next, nil
	})
	require.NoError(t, err)

	a.Locality = "Gdynia"
	_, err = f.repo.UpdateAddress(ctx, coordinator, *a)
	require.NoError(t, err)

	rows := f.storedRows(t, codec.TableAddresses)
	require.Len(t, rows, 1)
	assert.Equal(t, "Gdynia", rows[0].String("locality"))
	assert.Equal(t, "stary wpis", rows[0].String("legacyNote"))
	assert.Len(t, f.storedRows(t, codec.TableRooms), 1)
}
