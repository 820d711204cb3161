package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medmitra/medmitra/internal/platform/db"
)

// execTx stands in for a pgx.Tx and records Exec calls.
type execTx struct {
	pgx.Tx
	sql  []string
	args [][]interface{}
}

func (t *execTx) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	t.sql = append(t.sql, sql)
	t.args = append(t.args, args)
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func TestLockPatientDay_AdvisoryLockInTx(t *testing.T) {
	tx := &execTx{}
	ctx := context.WithValue(context.Background(), db.TxKey, pgx.Tx(tx))
	patient := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	doctor := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	ist, _ := time.LoadLocation("Asia/Kolkata")

	if err := (&repoPG{}).LockPatientDay(ctx, patient, doctor, time.Date(2026, 3, 2, 0, 0, 0, 0, ist)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tx.sql) != 1 || tx.sql[0] != `SELECT pg_advisory_xact_lock(hashtext($1))` {
		t.Fatalf("unexpected statements %v", tx.sql)
	}
	want := "book:" + patient.String() + ":" + doctor.String() + ":2026-03-02"
	if got := tx.args[0][0]; got != want {
		t.Errorf("expected lock key %q, got %v", want, got)
	}
}
