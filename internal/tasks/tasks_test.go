package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/sqladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPsql(t *testing.T, dataPath string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "psql")
	script := `#!/bin/sh
data="` + dataPath + `"
sql=""
id=""
status=""
note=""
while [ $# -gt 0 ]; do
  case "$1" in
    -c) sql="$2"; shift ;;
    -v) case "$2" in
          id=*) id="${2#id=}" ;;
          status=*) status="${2#status=}" ;;
          note=*) note="${2#note=}" ;;
        esac
        shift ;;
  esac
  shift
done
case "$sql" in
  *"GROUP BY status"*)
    printf 'TODO\0372\nBLOCKED\0371\nCOMPLETE\0375\n' ;;
  *"SET status = :'status'"*"WHERE id = :'id' AND status = 'BLOCKED'"*)
    if [ "$id" = "99" ]; then
      printf '99\n'
    fi
    ;;
  *"WHERE status = 'BLOCKED' RETURNING id"*)
    printf '1\n2\n'
    ;;
  *"FROM autonomous_tasks WHERE id"*)
    printf '99\037Fix bug\037BLOCKED\0375\037impl\037coder\037demo\037plan\037notes\037\037blocked: needs info\0372024-01-01 00:00:00\037\n'
    ;;
  *"completed_at >="*)
    printf '3\n'
    ;;
  *"WHERE status = :'status' ORDER BY"*)
    printf '1\037Fix a\037BLOCKED\0375\037\037\037alpha\037\037\037\037\0372024-01-01 00:00:00\037\n'
    printf '2\037Fix b\037BLOCKED\0373\037\037\037beta\037\037\037\037\0372024-01-01 00:00:00\037\n'
    ;;
esac
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	bin := stubPsql(t, filepath.Join(t.TempDir(), "unused"))
	sql := sqladapter.New(config.Postgres{Database: "ashleyd"}).WithBinary(bin)
	return New(sql)
}

func TestGet_ParsesTaskRow(t *testing.T) {
	s := newTestStore(t)
	task, ok, err := s.Get(context.Background(), "99")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fix bug", task.Name)
	assert.Equal(t, StatusBlocked, task.Status)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, "blocked: needs info", task.BlockedReason)
}

func TestCounts_AggregatesByStatus(t *testing.T) {
	s := newTestStore(t)
	c, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, c.TODO)
	assert.Equal(t, 1, c.Blocked)
	assert.Equal(t, 5, c.Complete)
}

func TestUnblock_ChangesOnlyMatchingBlockedRow(t *testing.T) {
	s := newTestStore(t)
	changed, err := s.Unblock(context.Background(), "99", "", "")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestUnblock_NoMatchReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	changed, err := s.Unblock(context.Background(), "1", "", "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUnblockAll_ReturnsChangedCount(t *testing.T) {
	s := newTestStore(t)
	n, err := s.UnblockAll(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUnblockStatusAliases_MapToCanonicalStatus(t *testing.T) {
	assert.Equal(t, StatusReadyForTesting, UnblockStatusAliases["ready"])
	assert.Equal(t, StatusReadyForTesting, UnblockStatusAliases["ready for testing"])
	assert.Equal(t, StatusInProgress, UnblockStatusAliases["in-progress"])
}

func TestCountCompletedSince_ParsesScalar(t *testing.T) {
	s := newTestStore(t)
	n, err := s.CountCompletedSince(context.Background(), time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestListByProject_GroupsRowsByProjectField(t *testing.T) {
	s := newTestStore(t)
	grouped, err := s.ListByProject(context.Background(), StatusBlocked, 20)
	require.NoError(t, err)
	require.Contains(t, grouped, "alpha")
	require.Contains(t, grouped, "beta")
	assert.Len(t, grouped["alpha"], 1)
	assert.Len(t, grouped["beta"], 1)
}
