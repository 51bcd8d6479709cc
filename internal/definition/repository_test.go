package definition

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepository(t *testing.T) *GormRepository {
	t.Helper()
	db, err := OpenSQLite(":memory:", nil)
	require.NoError(t, err)

	repo := NewGormRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func newDefinition(name string) *Definition {
	return &Definition{
		Name:              name,
		PlanKey:           "definitions/" + name + "/plan.jmx",
		ThreadGroupConfig: `{"numberOfThreads":10}`,
		ServerConfig:      `{"server":"qa.example.com"}`,
	}
}

func TestGormRepository_CreateAndFind(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	d := newDefinition("checkout")
	d.CSVKey = "definitions/checkout/users.csv"
	d.RequiresCSV = true
	d.UserCount = 120
	require.NoError(t, repo.Create(ctx, d))
	assert.NotEqual(t, uuid.Nil, d.ID)

	got, err := repo.FindByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.Name)
	assert.Equal(t, 120, got.UserCount)
	assert.True(t, got.RequiresCSV)
	assert.Equal(t, `{"numberOfThreads":10}`, got.ThreadGroupConfig)
	assert.Equal(t, d.PlanKey, got.SourceKey())
	assert.False(t, got.CreatedAt.IsZero())

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormRepository_CreateValidates(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	tests := []struct {
		name string
		def  *Definition
	}{
		{name: "missing name", def: &Definition{PlanKey: "p.jmx"}},
		{name: "missing plan", def: &Definition{Name: "x"}},
		{name: "negative users", def: &Definition{Name: "x", PlanKey: "p.jmx", UserCount: -1}},
		{name: "csv required but absent", def: &Definition{Name: "x", PlanKey: "p.jmx", RequiresCSV: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, repo.Create(ctx, tt.def))
		})
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGormRepository_List(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	low := newDefinition("low")
	low.CreatedAt = time.Now().Add(-2 * time.Hour)
	older := newDefinition("older")
	older.Priority = 5
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newDefinition("newer")
	newer.Priority = 5

	for _, d := range []*Definition{newer, low, older} {
		require.NoError(t, repo.Create(ctx, d))
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, d := range list {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"older", "newer", "low"}, names)
}

func TestGormRepository_Updates(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	d := newDefinition("search")
	require.NoError(t, repo.Create(ctx, d))

	require.NoError(t, repo.UpdateConfigs(ctx, d.ID, `{"numberOfThreads":99}`, `{"server":"prod.example.com"}`))
	require.NoError(t, repo.SetMaterializedKey(ctx, d.ID, "definitions/search/materialized.jmx"))

	got, err := repo.FindByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"numberOfThreads":99}`, got.ThreadGroupConfig)
	assert.Equal(t, `{"server":"prod.example.com"}`, got.ServerConfig)
	assert.Equal(t, "definitions/search/materialized.jmx", got.SourceKey())

	missing := uuid.New()
	assert.ErrorIs(t, repo.UpdateConfigs(ctx, missing, "{}", "{}"), ErrNotFound)
	assert.ErrorIs(t, repo.SetMaterializedKey(ctx, missing, "k"), ErrNotFound)
}

func TestGormRepository_Delete(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	d := newDefinition("login")
	require.NoError(t, repo.Create(ctx, d))

	require.NoError(t, repo.Delete(ctx, d.ID))
	assert.ErrorIs(t, repo.Delete(ctx, d.ID), ErrNotFound)

	_, err := repo.FindByID(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "planforge.db")

	db, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	repo := NewGormRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, repo.Create(context.Background(), newDefinition("persisted")))

	reopened, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	list, err := NewGormRepository(reopened).List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
