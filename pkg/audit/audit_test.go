package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/warden/pkg/config"
)

func seed(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	rejected := NewEvent(KindRejected, "shell_tool.go")
	rejected.Digest = Digest([]byte("package shell"))
	rejected.Violations = []string{"ForbiddenImport:os/exec"}
	require.NoError(t, store.Record(ctx, NewEvent(KindInspected, "echo_tool.go")))
	require.NoError(t, store.Record(ctx, rejected))
	invoked := NewEvent(KindInvoked, "echo_tool")
	invoked.Data = map[string]any{"success": true}
	require.NoError(t, store.Record(ctx, invoked))
}

func testStore(t *testing.T, store Store) {
	seed(t, store)
	ctx := context.Background()

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, KindInspected, all[0].Kind)

	rejected, err := store.List(ctx, Filter{Kind: KindRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, []string{"ForbiddenImport:os/exec"}, rejected[0].Violations)
	assert.Len(t, rejected[0].Digest, 64)

	bySubject, err := store.List(ctx, Filter{Subject: "echo_tool"})
	require.NoError(t, err)
	require.Len(t, bySubject, 1)
	assert.Equal(t, true, bySubject[0].Data["success"])

	limited, err := store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	future, err := store.List(ctx, Filter{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	testStore(t, store)
}

func TestNewSQLiteStoreNilDB(t *testing.T) {
	_, err := NewSQLiteStore(nil)
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	store, closeFn, err := Open(config.AuditConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	require.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "audit.db")
	store, closeFn, err = Open(config.AuditConfig{Backend: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), NewEvent(KindLoaded, "echo_tool")))
	require.NoError(t, closeFn())

	store, closeFn, err = Open(config.AuditConfig{Backend: "sqlite", Path: path})
	require.NoError(t, err)
	defer closeFn()
	events, err := store.List(context.Background(), Filter{Kind: KindLoaded})
	require.NoError(t, err)
	assert.Len(t, events, 1, "sqlite ledger survives reopen")

	_, _, err = Open(config.AuditConfig{Backend: "bogus"})
	require.Error(t, err)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Digest(nil))
}
