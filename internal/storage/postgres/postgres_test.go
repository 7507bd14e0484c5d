package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/sitekit/internal/storage"
)

func newTestFixture(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func TestStore_EnsureSchema(t *testing.T) {
	s, mock := newTestFixture(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sitekit_options").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	s, mock := newTestFixture(t)

	mock.ExpectQuery("SELECT value FROM sitekit_options WHERE key =").
		WithArgs("module:analytics:active").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte("true")))

	got, err := s.Get(context.Background(), "module:analytics:active")
	require.NoError(t, err)
	assert.Equal(t, []byte("true"), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_NotFound(t *testing.T) {
	s, mock := newTestFixture(t)

	mock.ExpectQuery("SELECT value FROM sitekit_options WHERE key =").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_Unavailable(t *testing.T) {
	s, mock := newTestFixture(t)

	mock.ExpectQuery("SELECT value FROM sitekit_options WHERE key =").
		WithArgs("k").
		WillReturnError(errors.New("connection reset"))

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestStore_SetDelete(t *testing.T) {
	s, mock := newTestFixture(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO sitekit_options").
		WithArgs("k", []byte("v")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM sitekit_options WHERE key =").
		WithArgs("k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CompareAndSwap(t *testing.T) {
	tests := []struct {
		name   string
		prev   []byte
		next   []byte
		expect func(mock pgxmock.PgxPoolIface)
		want   bool
	}{
		{
			name: "create when absent",
			next: []byte("a"),
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("INSERT INTO sitekit_options .+ ON CONFLICT \\(key\\) DO NOTHING").
					WithArgs("k", []byte("a")).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			want: true,
		},
		{
			name: "create when present",
			next: []byte("a"),
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("INSERT INTO sitekit_options .+ ON CONFLICT \\(key\\) DO NOTHING").
					WithArgs("k", []byte("a")).
					WillReturnResult(pgxmock.NewResult("INSERT", 0))
			},
			want: false,
		},
		{
			name: "update on match",
			prev: []byte("a"),
			next: []byte("b"),
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("UPDATE sitekit_options SET value").
					WithArgs("k", []byte("a"), []byte("b")).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
			want: true,
		},
		{
			name: "delete on mismatch",
			prev: []byte("a"),
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("DELETE FROM sitekit_options WHERE key = .+ AND value =").
					WithArgs("k", []byte("a")).
					WillReturnResult(pgxmock.NewResult("DELETE", 0))
			},
			want: false,
		},
		{
			name: "absent check",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("k").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestFixture(t)
			tt.expect(mock)

			ok, err := s.CompareAndSwap(context.Background(), "k", tt.prev, tt.next)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := New(mock)

	mock.ExpectPing().WillReturnError(errors.New("down"))

	assert.ErrorIs(t, s.Ping(context.Background()), storage.ErrUnavailable)
}
