package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nrlabs/ashleyd/internal/config"
)

func writeBookmarksFile(t *testing.T, workspace string, links []legacyBookmark) {
	t.Helper()
	data, err := json.Marshal(legacyBookmarksFile{Links: links})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "bookmarks.json"), data, 0644))
}

func TestRunMigrateBookmarks_MissingFileIsNotAnError(t *testing.T) {
	workspace := t.TempDir()
	cfg := &config.Config{Paths: config.Paths{Workspace: workspace}}

	err := runMigrateBookmarks(cfg, true)
	require.NoError(t, err)
}

func TestRunMigrateBookmarks_DryRunDoesNotRequireDatabase(t *testing.T) {
	workspace := t.TempDir()
	cfg := &config.Config{Paths: config.Paths{Workspace: workspace}}
	writeBookmarksFile(t, workspace, []legacyBookmark{
		{URL: "https://example.com", Title: "Example", SavedAt: time.Now().UTC()},
	})

	err := runMigrateBookmarks(cfg, true)
	require.NoError(t, err)
}
