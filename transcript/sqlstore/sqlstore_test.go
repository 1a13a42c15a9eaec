package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"github.com/maxwelljoslyn/gm-trainer/transcript/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Interface compliance (compile-time assertions)
var _ transcript.Store = (*Store)(nil)

func openMemory(t *testing.T) transcript.Store {
	t.Helper()

	s, err := Open(context.Background(), func(o *Options) { o.DSN = ":memory:" })
	require.NoError(t, err)

	return s
}

func TestStore_SQLite(t *testing.T) {
	storetest.Run(t, openMemory)
}

func TestStore_FileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs.db")

	s, err := Open(ctx, func(o *Options) { o.DSN = path })
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, storetest.Record("s1", "c1", 1, time.Now().UTC(), "I look around.")))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, func(o *Options) { o.DSN = path })
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "I look around.", got[0].Response)
}

func TestStore_ZeroCreatedAtIsFilled(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	defer s.Close()

	rec := storetest.Record("s1", "c1", 1, time.Time{}, "hi")
	require.NoError(t, s.Append(ctx, rec))

	got, err := s.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), func(o *Options) { o.Driver = "oracle" })
	assert.Error(t, err)
}

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *Store) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return mock, New(gormDB)
}

func TestStore_AppendError(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectExec(`INSERT INTO "responses"`).WillReturnError(errors.New("disk full"))

	err := s.Append(context.Background(), storetest.Record("s1", "c1", 1, time.Now().UTC(), "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStore_LoadEmptyIsNotFound(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "responses" WHERE conversation_id = \$1`).
		WithArgs("c404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id"}))

	_, err := s.LoadConversation(context.Background(), "c404")
	require.Error(t, err)
	assert.ErrorIs(t, err, transcript.ErrConversationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
