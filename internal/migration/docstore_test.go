package migration

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDocStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"id", "doc"}).
		AddRow("RJ1", []byte(`{"price": 100}`)).
		AddRow("RJ2", []byte(`{"price": 200}`))
	mock.ExpectQuery("SELECT id, doc FROM works").WillReturnRows(rows)

	store := NewPostgresDocStore(db)
	docs, err := store.List(context.Background(), "works")
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "RJ1", docs[0].ID)
	assert.Equal(t, 100.0, docs[0].Data["price"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDocStore_ListRejectsUnsafeName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresDocStore(db)
	_, err = store.List(context.Background(), "works; DROP TABLE works")
	assert.Error(t, err)
}

func TestPostgresDocStore_UpdateBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO works").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO works").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresDocStore(db)
	err = store.UpdateBatch(context.Background(), "works", []Document{
		{ID: "RJ1", Data: map[string]any{"price": 100.0}},
		{ID: "RJ2", Data: map[string]any{"price": 200.0}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDocStore_UpdateBatchRejectsOversize(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	docs := make([]Document, MaxBatchOps+1)
	for i := range docs {
		docs[i] = Document{ID: "RJ1", Data: map[string]any{}}
	}

	store := NewPostgresDocStore(db)
	err = store.UpdateBatch(context.Background(), "works", docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ceiling")
}
