package config

import "path/filepath"

// These accessors centralize the filesystem layout named in spec.md §6.7,
// all rooted at Paths.Workspace.

// LessonsLogPath is the plan pipeline's running lessons log.
func (c *Config) LessonsLogPath() string {
	return filepath.Join(c.Paths.Workspace, "agent-context", "lessons.log")
}

// BookmarksPath is the JSON file backing the /link local command. It holds
// a JSON object whose "links" field is the array of saved entries, not a
// bare top-level array.
func (c *Config) BookmarksPath() string {
	return filepath.Join(c.Paths.Workspace, "bookmarks.json")
}

// ProjectLogPath is the per-project note log used by the /project command.
func (c *Config) ProjectLogPath(project string) string {
	return filepath.Join(c.Paths.Workspace, "agent-context", "projects", project+".log")
}

// NotesDir is the directory holding one Markdown file per UTC date.
func (c *Config) NotesDir() string {
	return filepath.Join(c.Paths.Workspace, "notes")
}

// NoteFilePath is today's (dateUTC, "2006-01-02") note file.
func (c *Config) NoteFilePath(dateUTC string) string {
	return filepath.Join(c.NotesDir(), dateUTC+".md")
}

// InboxDir holds downloaded attachments, per spec.md §4.6 step 3.
func (c *Config) InboxDir() string {
	return filepath.Join(c.Paths.Workspace, "inbox")
}

// OffsetFilePath is the poller's persisted update offset.
func (c *Config) OffsetFilePath() string {
	return filepath.Join(c.Paths.Workspace, ".telegram-offset")
}

// ConversationBufferPath is the bounded conversation ring's JSON file.
func (c *Config) ConversationBufferPath() string {
	return filepath.Join(c.Paths.Workspace, ".conversation-buffer.json")
}

// DispatchLogDir is where per-pipeline dispatch logs are written.
func (c *Config) DispatchLogDir() string {
	return c.Paths.Workspace
}
