package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/memory"
	"github.com/nrlabs/ashleyd/internal/sqladapter"
)

// legacyBookmark mirrors the JSON shape internal/commands writes to
// bookmarks.json (spec.md §3's saved-link row); duplicated here rather
// than exported from internal/commands, since this is the only other
// reader of that file format.
type legacyBookmark struct {
	URL     string    `json:"url"`
	Title   string    `json:"title"`
	Tags    []string  `json:"tags"`
	SavedAt time.Time `json:"saved_at"`
}

type legacyBookmarksFile struct {
	Links []legacyBookmark `json:"links"`
}

// newMigrateBookmarksCmd implements the "batch migration of legacy file
// stores" operation spec.md §2 names for the vector memory client: every
// entry in the flat-file bookmarks.json is embedded and inserted into the
// memories table via store_bookmark, so /recall can surface links saved
// before the memory substrate existed.
func newMigrateBookmarksCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate-bookmarks",
		Short: "migrate bookmarks.json entries into the memory substrate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runMigrateBookmarks(cfg, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be migrated without writing")
	return cmd
}

func runMigrateBookmarks(cfg *config.Config, dryRun bool) error {
	data, err := os.ReadFile(cfg.BookmarksPath())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no bookmarks.json found, nothing to migrate")
			return nil
		}
		return fmt.Errorf("reading %s: %w", cfg.BookmarksPath(), err)
	}

	var file legacyBookmarksFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", cfg.BookmarksPath(), err)
	}

	sql := sqladapter.New(cfg.Postgres)
	store := memory.New(sql, memory.HashEmbedder{})
	ctx := context.Background()

	migrated := 0
	for _, bm := range file.Links {
		content := bm.Title
		if strings.TrimSpace(bm.URL) != "" {
			content = fmt.Sprintf("%s (%s)", bm.Title, bm.URL)
		}
		if dryRun {
			fmt.Printf("would migrate: %s\n", content)
			continue
		}
		if _, err := store.StoreBookmark(ctx, content, bm.URL); err != nil {
			return fmt.Errorf("migrating bookmark %q: %w", bm.URL, err)
		}
		migrated++
	}

	if dryRun {
		fmt.Printf("dry run: %d bookmark(s) would be migrated\n", len(file.Links))
		return nil
	}
	fmt.Printf("migrated %d bookmark(s)\n", migrated)
	return nil
}
