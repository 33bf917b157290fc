// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers file creation, reopen persistence, size stats and concurrent writers

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	session, err := store.CreateSession(ctx, "mem", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := store.GetSession(ctx, session.ID); err != nil {
		t.Errorf("GetSession failed: %v", err)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	session, err := store.CreateSession(ctx, "durable", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.InsertMessage(ctx, &Message{SessionID: session.ID, Role: "user", Content: "remember me"}); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	msgs, err := reopened.ListMessages(ctx, session.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "remember me" {
		t.Errorf("messages after reopen = %+v", msgs)
	}
}

func TestSQLiteStore_StatsReportsSize(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	st, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.DBSizeBytes <= 0 {
		t.Errorf("DBSizeBytes = %d, want > 0", st.DBSizeBytes)
	}
}

func TestSQLiteStore_ConcurrentInserts(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "busy", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := &Message{SessionID: session.ID, Role: "user", Content: fmt.Sprintf("%d-%d", w, i)}
				if err := store.InsertMessage(ctx, msg); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("InsertMessage failed: %v", err)
	}

	msgs, err := store.ListMessages(ctx, session.ID, 1000, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != writers*perWriter {
		t.Errorf("got %d messages, want %d", len(msgs), writers*perWriter)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("messages out of order at %d", i)
		}
	}
}
