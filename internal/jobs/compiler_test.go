package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSystemctl(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "systemctl")
	script := "#!/bin/sh\n" +
		"for a in \"$@\"; do\n" +
		"  case \"$a\" in\n" +
		"    is-active) echo active; exit 0 ;;\n" +
		"  esac\n" +
		"done\n" +
		"exit 0\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestSchedule_WritesFourFilesWithSharedBaseName(t *testing.T) {
	stubSystemctl(t)
	dir := t.TempDir()
	c := NewCompiler(dir, "ashleyd", 18801)

	unitName, err := c.Schedule(context.Background(), "0 7 * * *", "morning report")
	require.NoError(t, err)

	for _, ext := range []string{".service", ".timer", ".meta.json", ".payload.json"} {
		_, err := os.Stat(filepath.Join(dir, unitName+ext))
		assert.NoError(t, err, "expected %s to exist", ext)
	}
}

func TestSchedule_RejectsInvalidCronWithoutWritingFiles(t *testing.T) {
	stubSystemctl(t)
	dir := t.TempDir()
	c := NewCompiler(dir, "ashleyd", 18801)

	_, err := c.Schedule(context.Background(), "0 25 * * *", "bad time")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid cron expression")

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestScheduleListDelete_RoundTrip(t *testing.T) {
	stubSystemctl(t)
	dir := t.TempDir()
	c := NewCompiler(dir, "ashleyd", 18801)

	unitName, err := c.Schedule(context.Background(), "0 7 * * *", "morning report")
	require.NoError(t, err)

	jobs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, unitName, jobs[0].UnitName)
	assert.Equal(t, "0 7 * * *", jobs[0].Cron)

	removed, err := c.Delete(context.Background(), unitName)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	jobs, err = c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestDelete_AllRemovesEveryJob(t *testing.T) {
	stubSystemctl(t)
	dir := t.TempDir()
	c := NewCompiler(dir, "ashleyd", 18801)

	_, err := c.Schedule(context.Background(), "0 7 * * *", "morning report")
	require.NoError(t, err)
	_, err = c.Schedule(context.Background(), "0 8 * * *", "evening report")
	require.NoError(t, err)

	removed, err := c.Delete(context.Background(), "all")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestList_SkipsMalformedMetadataFile(t *testing.T) {
	stubSystemctl(t)
	dir := t.TempDir()
	c := NewCompiler(dir, "ashleyd", 18801)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ashleyd-broken-abcdef.meta.json"), []byte("not json"), 0644))

	jobs, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
