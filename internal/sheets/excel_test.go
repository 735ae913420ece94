package sheets

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExcelBackend_RoundTripThroughGateway(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "smarthouse.xlsx")
	b, err := NewExcelBackend(path)
	require.NoError(t, err)
	defer b.Close()

	g := NewGateway(b, DefaultOptions(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, g.EnsureHeaders(ctx, "Addresses", []string{"id", "locality", "name", "isActive"}))
	require.NoError(t, g.AddRows(ctx, "Addresses", []Row{
		{"id": "a1", "locality": "Gdańsk", "name": "Długa 1", "isActive": "TRUE"},
		{"id": "a2", "locality": "Sopot", "name": "Morska 5", "isActive": "FALSE"},
		{"id": "a3", "locality": "Gdynia", "name": "Portowa 9", "isActive": "TRUE"},
	}))

	require.NoError(t, g.FindAndUpdateRow(ctx, "Addresses", ByColumn("id", "a2"), Row{"isActive": "TRUE"}))
	deleted, err := g.DeleteRows(ctx, "Addresses", ByColumn("id", "a1"))
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	// reopen from disk
	reopened, err := NewExcelBackend(path)
	require.NoError(t, err)
	defer reopened.Close()

	tables, err := reopened.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "locality", "name", "isActive"}, tables["Addresses"])
	_, hasDefault := tables[defaultSheet]
	assert.False(t, hasDefault)

	recs, err := reopened.ReadRows(ctx, "Addresses")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a2", recs[0].Values.String("id"))
	assert.Equal(t, "TRUE", recs[0].Values.String("isActive"))
	assert.Equal(t, "Portowa 9", recs[1].Values.String("name"))
}

func TestExcelBackend_NumbersReadBackAsRawText(t *testing.T) {
	b, err := NewExcelBackend(filepath.Join(t.TempDir(), "book.xlsx"))
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.WriteHeaders(ctx, "Rooms", []string{"id", "capacity"}))
	require.NoError(t, b.AppendRows(ctx, "Rooms", []Row{{"id": "r1", "capacity": float64(4)}}))

	recs, err := b.ReadRows(ctx, "Rooms")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].Handle)
	assert.Equal(t, "4", recs[0].Values.String("capacity"))
}

func TestExcelBackend_MissingSheet(t *testing.T) {
	b, err := NewExcelBackend(filepath.Join(t.TempDir(), "book.xlsx"))
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ReadRows(context.Background(), "Employees")
	assert.ErrorIs(t, err, ErrTableNotFound)
	err = b.AppendRows(context.Background(), "Employees", []Row{{"id": "x"}})
	assert.ErrorIs(t, err, ErrTableNotFound)
}
