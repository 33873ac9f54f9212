package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/zerolabs/zeroweb/internal/crawl"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock, Config{ClaimTTL: 15 * time.Minute, MaxRetries: 10}, nil)
	require.NoError(t, err)
	return mock, s
}

func TestUpsertURLInsertsNewRow(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO pages`).
		WithArgs("https://example.com/a", 2.0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, inserted, err := s.UpsertURL(context.Background(), "https://example.com/a", 2.0)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertURLConflictReturnsExistingID(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	// ON CONFLICT DO NOTHING yields no row on the insert.
	mock.ExpectQuery(`INSERT INTO pages`).
		WithArgs("https://example.com/a", 1.0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT id FROM pages WHERE url`).
		WithArgs("https://example.com/a").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, inserted, err := s.UpsertURL(context.Background(), "https://example.com/a", 1.0)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, int64(3), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchReturnsClaimedRows(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(2, float64(900), 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "crawl_delay", "retries"}).
			AddRow(int64(1), "https://example.com/a", 1.0, 0).
			AddRow(int64(2), "https://example.com/b", 2.0, 1))

	batch, err := s.ClaimBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "https://example.com/a", batch[0].URL)
	require.Equal(t, 1, batch[1].Retries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchEmpty(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(100, float64(900), 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "crawl_delay", "retries"}))

	batch, err := s.ClaimBatch(context.Background(), 100)
	require.NoError(t, err)
	require.Empty(t, batch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteResultClearsClaim(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	full := "the full text"
	mock.ExpectExec(`UPDATE pages`).
		WithArgs(int64(4), "A Title", "a snippet", &full).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.WriteResult(context.Background(), 4, "A Title", "a snippet", &full)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteEmbeddingEncodesBlob(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	vec := []float32{0.25, -1.5}
	mock.ExpectExec(`UPDATE pages SET embedding`).
		WithArgs(int64(9), EncodeVector(vec)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.WriteEmbedding(context.Background(), 9, vec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFullTextMissingRow(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	mock.ExpectQuery(`SELECT full_text FROM pages`).
		WithArgs("https://example.com/missing").
		WillReturnRows(pgxmock.NewRows([]string{"full_text"}))

	text, ok, err := s.FullText(context.Background(), "https://example.com/missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanAllDecodesEmbeddings(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	snippet := "snip"
	vec := []float32{1, 2, 3}
	mock.ExpectQuery(`SELECT id, url, title, snippet, full_text, embedding`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "title", "snippet", "full_text", "embedding", "crawl_delay", "claimed_at", "retries",
		}).
			AddRow(int64(1), "https://example.com/a", "A", &snippet, (*string)(nil), EncodeVector(vec), 1.0, (*time.Time)(nil), 0).
			AddRow(int64(2), "https://example.com/b", "", (*string)(nil), (*string)(nil), []byte(nil), 1.0, (*time.Time)(nil), 0))

	var got []crawl.PageRecord
	err := s.ScanAll(context.Background(), func(rec crawl.PageRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, vec, got[0].Embedding)
	require.True(t, got[0].Scraped())
	require.Nil(t, got[1].Embedding)
	require.False(t, got[1].Scraped())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDomainNormalizesAndDeduplicates(t *testing.T) {
	t.Parallel()
	mock, s := newMockStore(t)

	mock.ExpectExec(`INSERT INTO domains`).
		WithArgs("example.com").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO domains`).
		WithArgs("example.com").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	added, err := s.AddDomain(context.Background(), "https://www.Example.com/blog")
	require.NoError(t, err)
	require.True(t, added)

	added, err = s.AddDomain(context.Background(), "example.com")
	require.NoError(t, err)
	require.False(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorCodecRoundTrip(t *testing.T) {
	t.Parallel()

	vec := []float32{0, 1, -1, 0.5, 3.14159}
	decoded, err := DecodeVector(EncodeVector(vec))
	require.NoError(t, err)
	require.Equal(t, vec, decoded)

	_, err = DecodeVector([]byte{1, 2, 3})
	require.Error(t, err)

	require.Nil(t, EncodeVector(nil))
}
