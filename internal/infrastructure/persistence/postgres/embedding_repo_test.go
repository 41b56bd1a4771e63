package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"convergence-engine/internal/domain/entity"
)

func newMockRepo(t *testing.T) (*EmbeddingRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)
	return NewEmbeddingRepository(NewClientWithDB(db)), mock
}

var columns = []string{"fingerprint", "vector", "provider_id", "model", "dimensions", "created_at"}

func TestEmbeddingRepository_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "embedding_cache" WHERE fingerprint = $1`)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("abc", "[0.25,-0.5,1]", "local", "nomic-embed-text", 3, created))

	rec, err := repo.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, &entity.EmbeddingRecord{
		Fingerprint: "abc",
		Vector:      []float32{0.25, -0.5, 1},
		ProviderID:  "local",
		Model:       "nomic-embed-text",
		Dimensions:  3,
		CreatedAt:   created,
	}, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_GetMiss(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "embedding_cache" WHERE fingerprint = $1`)).
		WillReturnRows(sqlmock.NewRows(columns))

	rec, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_GetError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "embedding_cache"`)).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.Get(context.Background(), "abc")
	assert.ErrorContains(t, err, "connection reset")
}

func TestEmbeddingRepository_GetMany(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "embedding_cache" WHERE fingerprint = ANY($1)`)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a", "[1,2]", "local", "m", 2, created).
			AddRow("c", "[3,4]", "remote-fallback", "m", 2, created))

	got, err := repo.GetMany(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{3, 4}, got["c"].Vector)
	assert.Equal(t, "remote-fallback", got["c"].ProviderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_GetManyEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)

	got, err := repo.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_Save(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "embedding_cache" ("fingerprint","vector","provider_id","model","dimensions","created_at") VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT ("fingerprint") DO NOTHING`)).
		WithArgs("abc", "[0.25,-0.5,1]", "local", "nomic-embed-text", 3, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), &entity.EmbeddingRecord{
		Fingerprint: "abc",
		Vector:      []float32{0.25, -0.5, 1},
		ProviderID:  "local",
		Model:       "nomic-embed-text",
		Dimensions:  3,
		CreatedAt:   created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_Sweep(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "embedding_cache" WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.Sweep(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRepository_Count(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "embedding_cache"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
