package postgres

import (
	"context"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/pkg/errors"
)

func newMockRepo(t *testing.T) (*cacheRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCacheRepository(db, nil), mock
}

func sampleRecord() *domain.CacheRecord {
	return &domain.CacheRecord{
		ProductID: 10,
		SKU:       "DA-1",
		Title:     "Drivaksel",
		Handle:    "da-1",
		Price:     decimal.RequireFromString("1299.50"),
		InStock:   true,
		GroupName: "Drivaksler",
		Status:    "active",
		Fields: []domain.Metafield{
			{Namespace: "custom", Key: "number", Type: "single_line_text_field", Value: "DA-1"},
			{Namespace: "custom", Key: "original_nummer", Type: "single_line_text_field", Value: "123, 456"},
		},
	}
}

func TestCacheRepository_UpsertWithIndex(t *testing.T) {
	repo, mock := newMockRepo(t)
	rec := sampleRecord()
	entries := []domain.IndexEntry{
		{Identifier: "123", ProductID: 10, FieldKey: "original_nummer"},
		{Identifier: "456", ProductID: 10, FieldKey: "original_nummer"},
	}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cache_records WHERE sku").
		WithArgs("DA-1", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO cache_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("DELETE FROM cache_record_fields").
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	for _, f := range rec.Fields {
		mock.ExpectExec("INSERT INTO cache_record_fields").
			WithArgs(int64(10), f.Namespace, f.Key, f.Type, f.Value).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("DELETE FROM identifier_index WHERE product_id").
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	for _, e := range entries {
		mock.ExpectExec("INSERT INTO identifier_index").
			WithArgs(e.Identifier, int64(10), e.FieldKey).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := repo.UpsertWithIndex(context.Background(), rec, entries); err != nil {
		t.Fatalf("UpsertWithIndex: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("timestamps should be filled from RETURNING")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCacheRepository_UpsertRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cache_records WHERE sku").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO cache_records").WillReturnError(stderrors.New("disk full"))
	mock.ExpectRollback()

	if err := repo.UpsertWithIndex(context.Background(), sampleRecord(), nil); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCacheRepository_SearchByIdentifier(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"product_id", "sku", "title", "handle", "price", "in_stock", "group_name", "field_key", "value"}).
		AddRow(int64(10), "DA-1", "Drivaksel", "da-1", "1299.50", true, "Drivaksler", "original_nummer", "123, 456")
	mock.ExpectQuery(`LEFT JOIN cache_record_fields f\s+ON f.product_id = i.product_id AND f.namespace = \$3`).
		WithArgs(pq.Array([]string{"456"}), 100, "custom").
		WillReturnRows(rows)

	hits, err := repo.SearchByIdentifier(context.Background(), []string{"456"}, 0)
	if err != nil {
		t.Fatalf("SearchByIdentifier: %v", err)
	}
	if len(hits) != 1 || hits[0].SKU != "DA-1" || hits[0].FieldKey != "original_nummer" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if !hits[0].Price.Equal(decimal.RequireFromString("1299.5")) {
		t.Errorf("price = %s", hits[0].Price)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCacheRepository_SearchByFieldValueEscapesLike(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM cache_record_fields f.*WHERE f.namespace = \$4`).
		WithArgs(pq.Array([]string{"original_nummer"}), `AB\%C`, 20, "custom").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "sku", "title", "handle", "price", "in_stock", "group_name", "key", "value"}))

	hits, err := repo.SearchByFieldValue(context.Background(), "AB%C", []string{"original_nummer"}, 20)
	if err != nil {
		t.Fatalf("SearchByFieldValue: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCacheRepository_ReplaceIndexUsesCopy(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM identifier_index").WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`COPY "identifier_index"`))
	prep.ExpectExec().WithArgs("123", int64(10), "original_nummer").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("W9", int64(11), "welte_varenummer").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	entries := []domain.IndexEntry{
		{Identifier: "123", ProductID: 10, FieldKey: "original_nummer"},
		{Identifier: "123", ProductID: 10, FieldKey: "original_nummer"},
		{Identifier: "W9", ProductID: 11, FieldKey: "welte_varenummer"},
	}
	if err := repo.ReplaceIndex(context.Background(), entries); err != nil {
		t.Fatalf("ReplaceIndex: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCacheRepository_GetByProductIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM cache_records").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id"}))

	_, err := repo.GetByProductID(context.Background(), 99)
	var notFound *errors.ErrNotFound
	if !stderrors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheRepository_ListAllAttachesFields(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	cols := []string{"product_id", "sku", "title", "handle", "price", "in_stock", "group_name", "status", "created_at", "updated_at"}
	mock.ExpectQuery("FROM cache_records").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(10), "DA-1", "A", "da-1", "10.00", true, "Drivaksler", "active", now, now).
			AddRow(int64(11), "MA-1", "B", "ma-1", "20.00", true, "Mellomaksler", "active", now, now))
	mock.ExpectQuery("FROM cache_record_fields").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "namespace", "key", "type", "value"}).
			AddRow(int64(10), "custom", "original_nummer", "single_line_text_field", "123").
			AddRow(int64(11), "custom", "number", "single_line_text_field", "MA-1"))

	records, err := repo.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 2 || len(records[0].Fields) != 1 || records[1].Fields[0].Key != "number" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestCacheRepository_Stats(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c"}).AddRow(3, 12, 7))

	s, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Records != 3 || s.Fields != 12 || s.IndexEntries != 7 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}
