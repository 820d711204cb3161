package encounter

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medmitra/medmitra/internal/platform/db"
)

// recordingTx stands in for a pgx.Tx; only the calls ReplaceMedications makes
// are implemented.
type recordingTx struct {
	pgx.Tx
	execs   []string
	batched []string
}

func (t *recordingTx) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func (t *recordingTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		t.batched = append(t.batched, q.SQL)
	}
	return &okBatch{n: b.Len()}
}

type okBatch struct {
	pgx.BatchResults
	n int
}

func (b *okBatch) Exec() (pgconn.CommandTag, error) {
	b.n--
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (b *okBatch) Close() error { return nil }

func TestReplaceMedications_BatchesInsertsInTx(t *testing.T) {
	tx := &recordingTx{}
	ctx := context.WithValue(context.Background(), db.TxKey, pgx.Tx(tx))
	repo := &repoPG{}

	meds := []Medication{
		{ID: uuid.New(), Position: 1, Name: "Paracetamol 500mg", Dosage: "1 tab", Frequency: "1-0-1", DurationDays: 5},
		{ID: uuid.New(), Position: 2, Name: "Cetirizine 10mg", Dosage: "1 tab", Frequency: "HS", DurationDays: 3},
	}
	if err := repo.ReplaceMedications(ctx, uuid.New(), meds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tx.execs) != 1 || !strings.Contains(tx.execs[0], "DELETE FROM encounter_medication") {
		t.Errorf("expected the old lines to be cleared first, got %v", tx.execs)
	}
	if len(tx.batched) != 2 {
		t.Fatalf("expected 2 batched inserts, got %d", len(tx.batched))
	}
	for _, q := range tx.batched {
		if !strings.Contains(q, "INSERT INTO encounter_medication") {
			t.Errorf("unexpected batched statement %q", q)
		}
	}
}

func TestReplaceMedications_EmptyOnlyClears(t *testing.T) {
	tx := &recordingTx{}
	ctx := context.WithValue(context.Background(), db.TxKey, pgx.Tx(tx))

	if err := (&repoPG{}).ReplaceMedications(ctx, uuid.New(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tx.execs) != 1 || len(tx.batched) != 0 {
		t.Errorf("expected only the delete, got execs=%v batched=%v", tx.execs, tx.batched)
	}
}
