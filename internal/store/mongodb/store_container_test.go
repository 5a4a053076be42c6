//go:build container
// +build container

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// setupMongo starts a single-node replica set, which multi-document
// transactions require.
func setupMongo(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	code, _, err := c.Exec(ctx, []string{"mongosh", "--quiet", "--eval",
		"rs.initiate({_id: 'rs0', members: [{_id: 0, host: 'localhost:27017'}]})"})
	if err != nil || code != 0 {
		t.Fatalf("initiate replica set: code=%d err=%v", code, err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, "27017/tcp")
	if err != nil {
		t.Fatal(err)
	}
	uri := fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port())

	// The node needs a moment to elect itself primary.
	deadline := time.Now().Add(30 * time.Second)
	for {
		s, err := New(ctx, uri, "fintrack_test")
		if err == nil {
			readyErr := store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
				return tx.EnqueueChange(ctx, core.ChangeEvent{UserID: "ready-check"})
			})
			if readyErr == nil {
				_, _ = s.outbox.DeleteMany(ctx, map[string]any{"userId": "ready-check"})
				t.Cleanup(func() { _ = s.Close(ctx) })
				return s
			}
			_ = s.Close(ctx)
			err = readyErr
		}
		if time.Now().After(deadline) {
			t.Fatalf("mongo not ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestMongoStore(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	t.Run("unit of work commits atomically", func(t *testing.T) {
		tpl := core.RecurringTemplate{ID: "tpl-1", UserID: "u1", Category: "Rent", Type: core.Expense,
			Amount: core.Money{Cents: 1000}, Frequency: core.Monthly, StartDate: at, IsActive: true}
		if err := s.CreateTemplate(ctx, tpl); err != nil {
			t.Fatal(err)
		}
		tr := core.Transaction{ID: "t1", UserID: "u1", Category: "Rent", Type: core.Expense,
			Amount: core.Money{Cents: 1000}, Date: at, IdempotencyKey: "tpl-1:2024-03-05", CreatedAt: at, UpdatedAt: at}
		err := store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
			if err := tx.AdvanceTemplate(ctx, tpl.ID, at); err != nil {
				return err
			}
			return tx.EnqueueChange(ctx, core.ChangeEvent{UserID: "u1", After: &tr})
		})
		if err != nil {
			t.Fatal(err)
		}

		got, err := s.GetTemplate(ctx, tpl.ID)
		if err != nil || got.LastGeneratedDate == nil || !got.LastGeneratedDate.Equal(at) {
			t.Fatalf("marker not advanced: %+v err %v", got, err)
		}
		pending, _ := s.DequeueChanges(ctx, 10)
		if len(pending) != 1 || pending[0].Event.After == nil || pending[0].Event.After.ID != "t1" {
			t.Fatalf("outbox = %+v", pending)
		}
	})

	t.Run("duplicate idempotency key rolls back", func(t *testing.T) {
		tr := core.Transaction{ID: "t2", UserID: "u1", Category: "Rent", Type: core.Expense,
			Amount: core.Money{Cents: 1000}, Date: at, IdempotencyKey: "tpl-1:2024-03-05", CreatedAt: at, UpdatedAt: at}
		err := store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertTransaction(ctx, tr)
		})
		if !errors.Is(err, store.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		if _, err := s.GetTransaction(ctx, "t2"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("t2 should not exist, got %v", err)
		}
	})

	t.Run("increment clamps at zero", func(t *testing.T) {
		if err := s.CreateBudget(ctx, core.Budget{ID: "b1", UserID: "u1", Category: "Food", Month: "2024-03"}); err != nil {
			t.Fatal(err)
		}
		b, found, err := s.IncrementSpend(ctx, "u1", "Food", "2024-03", core.Money{Cents: 700}, "")
		if err != nil || !found || b.CurrentSpend.Cents != 700 {
			t.Fatalf("add: %+v found=%v err=%v", b, found, err)
		}
		b, _, _ = s.IncrementSpend(ctx, "u1", "Food", "2024-03", core.Money{Cents: -5000}, "")
		if b.CurrentSpend.Cents != 0 {
			t.Fatalf("CurrentSpend = %d, want 0", b.CurrentSpend.Cents)
		}
		if _, found, err := s.IncrementSpend(ctx, "u1", "Food", "2099-01", core.Money{Cents: 1}, ""); found || err != nil {
			t.Fatalf("missing budget: found=%v err=%v", found, err)
		}
	})

	t.Run("apply key counts once", func(t *testing.T) {
		if err := s.CreateBudget(ctx, core.Budget{ID: "b2", UserID: "u1", Category: "Travel", Month: "2024-03"}); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			b, found, err := s.IncrementSpend(ctx, "u1", "Travel", "2024-03", core.Money{Cents: 400}, "ev-1:Travel:2024-03:+")
			if err != nil || !found || b.CurrentSpend.Cents != 400 {
				t.Fatalf("attempt %d: %+v found=%v err=%v", i, b, found, err)
			}
		}
		if _, found, err := s.IncrementSpend(ctx, "u1", "Travel", "2099-01", core.Money{Cents: 1}, "ev-1:Travel:2099-01:+"); found || err != nil {
			t.Fatalf("missing budget: found=%v err=%v", found, err)
		}
	})

	t.Run("outbox dequeues in enqueue order", func(t *testing.T) {
		before, _ := s.DequeueChanges(ctx, 100)
		for _, e := range before {
			_ = s.MarkChangeDone(ctx, e.ID)
		}
		for i := 0; i < 5; i++ {
			ev := core.ChangeEvent{ID: fmt.Sprintf("ev-order-%d", i), UserID: "u1"}
			err := store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
				return tx.EnqueueChange(ctx, ev)
			})
			if err != nil {
				t.Fatal(err)
			}
		}
		pending, _ := s.DequeueChanges(ctx, 10)
		if len(pending) != 5 {
			t.Fatalf("pending = %d, want 5", len(pending))
		}
		for i, e := range pending {
			if want := fmt.Sprintf("ev-order-%d", i); e.Event.ID != want {
				t.Errorf("entry %d = %s, want %s", i, e.Event.ID, want)
			}
		}
	})

	t.Run("outbox parks after max attempts", func(t *testing.T) {
		pending, _ := s.DequeueChanges(ctx, 10)
		if len(pending) == 0 {
			t.Fatal("expected a pending entry")
		}
		id := pending[0].ID
		for i := 0; i < 2; i++ {
			if err := s.MarkChangeFailed(ctx, id, errors.New("nope"), 2); err != nil {
				t.Fatal(err)
			}
		}
		rest, _ := s.DequeueChanges(ctx, 10)
		for _, e := range rest {
			if e.ID == id {
				t.Fatal("parked entry still pending")
			}
		}
	})
}
