package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/sheets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeActors map[string]domain.Coordinator

func (f fakeActors) Coordinator(ctx context.Context, uid string) (domain.Coordinator, bool, error) {
	c, ok := f[uid]
	return c, ok, nil
}

type fakeSink struct {
	notifications []domain.Notification
	audit         []domain.AuditLogEntry
	failNotify    error
}

func (f *fakeSink) AppendNotification(ctx context.Context, n domain.Notification) error {
	if f.failNotify != nil {
		return f.failNotify
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeSink) AppendAudit(ctx context.Context, e domain.AuditLogEntry) error {
	f.audit = append(f.audit, e)
	return nil
}

type fakePublisher struct {
	published []*domain.Notification
}

func (f *fakePublisher) Publish(ctx context.Context, n *domain.Notification) error {
	f.published = append(f.published, n)
	return nil
}

var fixedNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

func newTestTracker() (*Tracker, *fakeSink, *fakePublisher) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	actors := fakeActors{"c1": {UID: "c1", Name: "Anna Kowal"}}
	tr := New(actors, sink, pub, zap.NewNop()).WithClock(func() time.Time { return fixedNow })
	return tr, sink, pub
}

func TestDiff_StatusChange(t *testing.T) {
	before := sheets.Row{"id": "e1", "lastName": "Nowak", "status": "active"}
	changes := Diff(codec.EmployeeSchema, before, map[string]any{"status": "dismissed"})
	assert.Equal(t, []domain.NotificationChange{{Field: "status", OldValue: "active", NewValue: "dismissed"}}, changes)
}

func TestDiff_IgnoresTypeOnlyDifferences(t *testing.T) {
	before := sheets.Row{
		"id": "e1", "deductionRegulation": "5", "checkInDate": "2024-03-15",
		"comments": " ok ", "deductionReason": "", "roomNumber": float64(3),
	}
	patch := map[string]any{
		"deductionRegulation": 5,
		"checkInDate":         "15-03-2024",
		"comments":            "ok",
		"deductionReason":     []any{},
		"roomNumber":          "3",
	}
	assert.Empty(t, Diff(codec.EmployeeSchema, before, patch))
}

func TestDiff_SchemaOrderAndRendering(t *testing.T) {
	before := sheets.Row{"id": "e1", "checkInDate": "2024-03-15", "address": "Długa 1", "status": "active"}
	patch := map[string]any{
		"status":      "dismissed",
		"checkInDate": float64(45000),
		"address":     "Morska 5",
		"unknown":     "ignored",
		"id":          "e2",
	}
	changes := Diff(codec.EmployeeSchema, before, patch)
	require.Len(t, changes, 3)
	assert.Equal(t, "address", changes[0].Field)
	assert.Equal(t, domain.NotificationChange{Field: "checkInDate", OldValue: "15-03-2024", NewValue: "15-03-2023"}, changes[1])
	assert.Equal(t, "status", changes[2].Field)
}

func TestRecordMutation_WritesNotificationAndAudit(t *testing.T) {
	tr, sink, pub := newTestTracker()
	changes := []domain.NotificationChange{{Field: "status", OldValue: "active", NewValue: "dismissed"}}

	tr.RecordMutation(context.Background(), Mutation{
		Actor:   domain.Actor{UID: "c1"},
		Action:  ActionUpdate,
		Subject: Subject{Type: "employee", ID: "e1", Name: "Jan Nowak", CoordinatorID: "c2"},
		Changes: changes,
	})

	require.Len(t, sink.notifications, 1)
	n := sink.notifications[0]
	assert.Equal(t, "Anna Kowal updated employee Jan Nowak.", n.Message)
	assert.Equal(t, "c2", n.RecipientID)
	assert.Equal(t, "Anna Kowal", n.ActorName)
	assert.Equal(t, fixedNow, n.CreatedAt)
	assert.Equal(t, domain.NotificationInfo, n.Type)
	assert.Equal(t, changes, n.Changes)
	assert.NotEmpty(t, n.ID)

	require.Len(t, sink.audit, 1)
	a := sink.audit[0]
	assert.Equal(t, "c1", a.ActorID)
	assert.Equal(t, "update", a.Action)
	assert.Equal(t, "employee", a.TargetType)
	assert.Equal(t, "e1", a.TargetID)
	var details struct {
		Changes []domain.NotificationChange `json:"changes"`
	}
	require.NoError(t, json.Unmarshal([]byte(a.Details), &details))
	assert.Equal(t, changes, details.Changes)

	require.Len(t, pub.published, 1)
	assert.Equal(t, n.ID, pub.published[0].ID)
}

func TestRecordMutation_ImportantGoesToBroadcast(t *testing.T) {
	tr, sink, _ := newTestTracker()
	tr.RecordMutation(context.Background(), Mutation{
		Actor:     domain.Actor{UID: "c1"},
		Action:    ActionRemove,
		Subject:   Subject{Type: "employee", ID: "e1", Name: "Jan Nowak", CoordinatorID: "c2"},
		Important: true,
	})
	require.Len(t, sink.notifications, 1)
	assert.Equal(t, domain.RecipientBroadcast, sink.notifications[0].RecipientID)
	assert.Equal(t, domain.NotificationDestructive, sink.notifications[0].Type)
	assert.Equal(t, `{"changes":[]}`, sink.audit[0].Details)
}

func TestRecordMutation_UnknownActorSkips(t *testing.T) {
	tr, sink, pub := newTestTracker()
	tr.RecordMutation(context.Background(), Mutation{
		Actor:   domain.Actor{UID: "ghost", Name: "Ghost"},
		Action:  ActionUpdate,
		Subject: Subject{Type: "employee", ID: "e1"},
	})
	assert.Empty(t, sink.notifications)
	assert.Empty(t, sink.audit)
	assert.Empty(t, pub.published)
}

func TestRecordMutation_AutomaticActor(t *testing.T) {
	tr, sink, _ := newTestTracker()
	tr.RecordMutation(context.Background(), Mutation{
		Actor:   domain.SystemActor("system"),
		Action:  ActionUpdate,
		Subject: Subject{Type: "non-employee", ID: "n1", Name: "Olga Ivanova", CoordinatorID: "c1"},
		Changes: []domain.NotificationChange{{Field: "status", OldValue: "active", NewValue: "dismissed"}},
	})
	require.Len(t, sink.notifications, 1)
	assert.Equal(t, "automatic process updated non-employee Olga Ivanova.", sink.notifications[0].Message)
	assert.Equal(t, domain.NotificationWarning, sink.notifications[0].Type)
	assert.Equal(t, "system", sink.audit[0].ActorID)
	assert.Equal(t, domain.AutomaticProcess, sink.audit[0].ActorName)
}

func TestRecordMutation_SinkFailureIsContained(t *testing.T) {
	tr, sink, pub := newTestTracker()
	sink.failNotify = errors.New("quota exceeded")

	assert.NotPanics(t, func() {
		tr.RecordMutation(context.Background(), Mutation{
			Actor:   domain.Actor{UID: "c1"},
			Action:  ActionAdd,
			Subject: Subject{Type: "employee", ID: "e1", Name: "Jan Nowak"},
		})
	})
	assert.Empty(t, pub.published, "nothing to push when the row was not stored")
	assert.Len(t, sink.audit, 1, "audit still attempted")
}
