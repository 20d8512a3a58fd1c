// Package commands implements the local command handlers named in
// spec.md §4.6 and §4.1 item 11: formatted-string responses that answer
// without dispatching a background agent worker. The HTTP router and the
// channel poller both call into Handlers for the commands each of them
// recognizes (spec.md §9 notes the two shortlists overlap by design).
package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/dispatch"
	"github.com/nrlabs/ashleyd/internal/google"
	"github.com/nrlabs/ashleyd/internal/jsonfile"
	"github.com/nrlabs/ashleyd/internal/memory"
	"github.com/nrlabs/ashleyd/internal/rendezvous"
	"github.com/nrlabs/ashleyd/internal/tasks"
)

// Handlers bundles the dependencies the local command set needs.
type Handlers struct {
	Cfg        *config.Config
	Tasks      *tasks.Store
	Rendezvous *rendezvous.Store
	Memory     *memory.Store
	Pipelines  *dispatch.Pipelines
	Google     google.Client

	HTTPClient *http.Client
}

func (h *Handlers) httpClient() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}

// Help renders the command summary, per the original telegram-task-commands
// helper's `/help` listing.
func (h *Handlers) Help() string {
	return strings.Join([]string{
		"Commands:",
		"/help - show this help",
		"/tasks - task counters",
		"/blockers, /todo, /readyfortesting, /inprogress - top 20 listings",
		"/task <id> - single task detail",
		"/unblock <id|all> [status] [note] - requeue blocked task(s)",
		"/retry <id> - re-dispatch a blocked task's last agent",
		"/digest now - blocked tasks grouped by project",
		"/pending - list outstanding questions",
		"/answer <text> - answer the oldest pending question",
		"/note <text> - append a dated note",
		"/project [<proj>|]<note> - append project context",
		"/lesson <text> - record a lesson",
		"/link <url> [tags...] - save a bookmark",
		"/recall <query> - semantic memory search",
		"/briefing, /weeklyreview - aggregate summaries",
	}, "\n")
}

// Tasks renders the three-counter task summary named in spec.md §4.6.
func (h *Handlers) Tasks(ctx context.Context) (string, error) {
	c, err := h.Tasks.Counts(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Tasks: %d TODO, %d IN_PROGRESS, %d READY_FOR_TESTING, %d BLOCKED, %d COMPLETE",
		c.TODO, c.InProgress, c.ReadyForTesting, c.Blocked, c.Complete,
	), nil
}

func formatTaskLine(t tasks.Task) string {
	line := fmt.Sprintf("#%s %s", t.ID, t.Name)
	if t.Phase != "" {
		line += " [" + t.Phase + "]"
	}
	if t.AssignedAgent != "" {
		line += " (" + t.AssignedAgent + ")"
	}
	if t.Status == tasks.StatusBlocked && t.BlockedReason != "" {
		line += "\n  " + t.BlockedReason
	}
	return line
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatTaskListing(title string, rows []tasks.Task) string {
	if len(rows) == 0 {
		return "No " + title + "."
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, capitalize(title)+":")
	for _, t := range rows {
		lines = append(lines, formatTaskLine(t))
	}
	return strings.Join(lines, "\n")
}

// Blockers lists the top 20 BLOCKED tasks.
func (h *Handlers) Blockers(ctx context.Context) (string, error) {
	rows, err := h.Tasks.ListByStatus(ctx, tasks.StatusBlocked, 20)
	if err != nil {
		return "", err
	}
	return formatTaskListing("blocked tasks", rows), nil
}

// Todo lists the top 20 TODO tasks.
func (h *Handlers) Todo(ctx context.Context) (string, error) {
	rows, err := h.Tasks.ListByStatus(ctx, tasks.StatusTODO, 20)
	if err != nil {
		return "", err
	}
	return formatTaskListing("todo tasks", rows), nil
}

// ReadyForTesting lists the top 20 READY_FOR_TESTING tasks.
func (h *Handlers) ReadyForTesting(ctx context.Context) (string, error) {
	rows, err := h.Tasks.ListByStatus(ctx, tasks.StatusReadyForTesting, 20)
	if err != nil {
		return "", err
	}
	return formatTaskListing("tasks ready for testing", rows), nil
}

// InProgress lists the top 20 IN_PROGRESS tasks.
func (h *Handlers) InProgress(ctx context.Context) (string, error) {
	rows, err := h.Tasks.ListByStatus(ctx, tasks.StatusInProgress, 20)
	if err != nil {
		return "", err
	}
	return formatTaskListing("in-progress tasks", rows), nil
}

// Digest renders the BLOCKED listing grouped by project, a richer form of
// the original /digest now command.
func (h *Handlers) Digest(ctx context.Context) (string, error) {
	grouped, err := h.Tasks.ListByProject(ctx, tasks.StatusBlocked, 20)
	if err != nil {
		return "", err
	}
	if len(grouped) == 0 {
		return "No blocked tasks.", nil
	}
	projects := make([]string, 0, len(grouped))
	for p := range grouped {
		projects = append(projects, p)
	}
	sort.Strings(projects)

	var b strings.Builder
	b.WriteString("Blocked tasks by project:")
	for _, p := range projects {
		fmt.Fprintf(&b, "\n\n%s:", p)
		for _, t := range grouped[p] {
			b.WriteString("\n  ")
			b.WriteString(formatTaskLine(t))
		}
	}
	return b.String(), nil
}

// Task renders a single task's detail view.
func (h *Handlers) Task(ctx context.Context, id string) (string, error) {
	t, ok, err := h.Tasks.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("Task %s not found.", id), nil
	}
	lines := []string{
		fmt.Sprintf("#%s %s", t.ID, t.Name),
		"Status: " + string(t.Status),
	}
	if t.Phase != "" {
		lines = append(lines, "Phase: "+t.Phase)
	}
	if t.AssignedAgent != "" {
		lines = append(lines, "Agent: "+t.AssignedAgent)
	}
	if t.Project != "" {
		lines = append(lines, "Project: "+t.Project)
	}
	if t.BlockedReason != "" {
		lines = append(lines, "Blocked: "+t.BlockedReason)
	}
	return strings.Join(lines, "\n"), nil
}

// Unblock implements the /unblock local command, per spec.md §4.6.
func (h *Handlers) Unblock(ctx context.Context, id, statusToken, note string) (string, error) {
	newStatus := tasks.UnblockStatusAliases[strings.ToLower(strings.TrimSpace(statusToken))]

	if strings.EqualFold(id, "all") {
		n, err := h.Tasks.UnblockAll(ctx, newStatus, note)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "No blocked tasks to requeue.", nil
		}
		return fmt.Sprintf("Requeued %d blocked tasks.", n), nil
	}

	changed, err := h.Tasks.Unblock(ctx, id, newStatus, note)
	if err != nil {
		return "", err
	}
	if !changed {
		return fmt.Sprintf("Task %s not updated (not blocked or not found).", id), nil
	}
	status := newStatus
	if status == "" {
		status = tasks.StatusTODO
	}
	return fmt.Sprintf("Task %s set to %s.", id, status), nil
}

// Retry re-dispatches a BLOCKED task's last assigned agent without
// changing its status, per SPEC_FULL.md §6 (distinct from /unblock, which
// transitions status).
func (h *Handlers) Retry(ctx context.Context, id string) (string, error) {
	t, ok, err := h.Tasks.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok || t.Status != tasks.StatusBlocked {
		return fmt.Sprintf("Task %s not updated (not blocked or not found).", id), nil
	}
	agent := t.AssignedAgent
	if agent == "" {
		agent = "coder"
	}
	prompt := fmt.Sprintf("Resume task #%s (%s). Prior blocked reason: %s\n\nPlan:\n%s", t.ID, t.Name, t.BlockedReason, t.ImplementationPlan)
	go h.Pipelines.Ask(context.Background(), agent, prompt)
	return fmt.Sprintf("Re-dispatched %s for task %s.", agent, id), nil
}

// Pending renders the non-expired pending_questions rows.
func (h *Handlers) Pending(ctx context.Context) (string, error) {
	qs, err := h.Rendezvous.List(ctx)
	if err != nil {
		return "", err
	}
	if len(qs) == 0 {
		return "No pending questions.", nil
	}
	lines := make([]string, 0, len(qs)+1)
	lines = append(lines, "Pending questions:")
	for _, q := range qs {
		lines = append(lines, fmt.Sprintf("#%s [%s] %s (%s)", q.ID, q.Agent, q.Question, q.Status))
	}
	return strings.Join(lines, "\n"), nil
}

// Answer implements the implicit/explicit answer path of spec.md §4.3:
// bind to the oldest pending question, append to the task's solution if
// task-linked, and dispatch a follow-up continuation.
func (h *Handlers) Answer(ctx context.Context, answer string) (string, error) {
	q, ok, err := h.Rendezvous.Answer(ctx, answer)
	if err != nil {
		return "", err
	}
	if !ok {
		return "No pending questions to answer.", nil
	}

	if q.TaskID != "" {
		if err := h.Tasks.AppendSolution(ctx, q.TaskID, q.ID, answer); err != nil {
			return "", err
		}
	}

	followUp := fmt.Sprintf("Continuing after owner answer.\n\nOriginal question:\n%s\n\nAnswer:\n%s", q.Question, answer)
	if q.Agent == "planner" {
		go h.Pipelines.Plan(context.Background(), followUp)
	} else {
		go h.Pipelines.Adhoc(context.Background(), followUp)
	}

	return fmt.Sprintf("Answer recorded for question #%s.", q.ID), nil
}

// Note appends a line to today's dated Markdown note file, per spec.md §3.
func (h *Handlers) Note(text string) (string, error) {
	now := time.Now().UTC()
	path := h.Cfg.NoteFilePath(now.Format("2006-01-02"))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("commands: note: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("commands: note: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "- [%s] %s\n", now.Format("15:04"), text); err != nil {
		return "", fmt.Errorf("commands: note: %w", err)
	}
	return "Note saved.", nil
}

var whitespaceRun = regexp.MustCompile(`\s`)

// ParseProjectNote implements spec.md §4.1's project-note parsing rule:
// accept `<proj>|<note>`, or `<proj>:<note>` only if proj has no internal
// whitespace, or plain `<note>` inferring proj from the most recent task.
func ParseProjectNote(raw string, latestProject string) (project, note string, ok bool) {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "|"); idx >= 0 {
		p := strings.TrimSpace(raw[:idx])
		n := strings.TrimSpace(raw[idx+1:])
		if p != "" && n != "" {
			return p, n, true
		}
	}
	if idx := strings.Index(raw, ":"); idx >= 0 {
		p := strings.TrimSpace(raw[:idx])
		n := strings.TrimSpace(raw[idx+1:])
		if p != "" && n != "" && !whitespaceRun.MatchString(p) {
			return p, n, true
		}
	}
	if latestProject != "" && raw != "" {
		return latestProject, raw, true
	}
	return "", "", false
}

// Project implements the /project local command.
func (h *Handlers) Project(ctx context.Context, raw string) (string, error) {
	latest, _ := h.Tasks.ListByStatus(ctx, tasks.StatusInProgress, 1)
	latestProject := ""
	if len(latest) > 0 {
		latestProject = latest[0].Project
	}

	project, note, ok := ParseProjectNote(raw, latestProject)
	if !ok {
		return "Usage: /project <project>|<note> (or /project <note> when a recent project exists)", nil
	}

	path := h.Cfg.ProjectLogPath(project)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("commands: project: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("commands: project: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), note); err != nil {
		return "", fmt.Errorf("commands: project: %w", err)
	}

	if h.Memory != nil {
		if _, err := h.Memory.StoreProjectContext(ctx, project, note); err != nil {
			return "", fmt.Errorf("commands: project: %w", err)
		}
	}

	return fmt.Sprintf("Saved project context for %s.", project), nil
}

// Lesson appends text to the plan pipeline's lessons log and stores it in
// vector memory, per spec.md §4.1 item 4.
func (h *Handlers) Lesson(ctx context.Context, text string) (string, error) {
	path := h.Cfg.LessonsLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("commands: lesson: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("commands: lesson: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), text); err != nil {
		return "", fmt.Errorf("commands: lesson: %w", err)
	}

	if h.Memory != nil {
		if _, err := h.Memory.StoreLesson(ctx, text, "chat"); err != nil {
			return "", fmt.Errorf("commands: lesson: %w", err)
		}
	}
	return "Lesson recorded.", nil
}

type bookmark struct {
	URL     string    `json:"url"`
	Title   string    `json:"title"`
	Tags    []string  `json:"tags"`
	SavedAt time.Time `json:"saved_at"`
}

type bookmarksFile struct {
	Links []bookmark `json:"links"`
}

var titleTag = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func fetchTitle(client *http.Client, url string) string {
	resp, err := client.Get(url)
	if err != nil {
		return url
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return url
	}
	m := titleTag.FindSubmatch(body)
	if m == nil {
		return url
	}
	title := strings.TrimSpace(string(m[1]))
	if title == "" {
		return url
	}
	return title
}

// Link implements the /link local command, per spec.md §3's saved-link row.
func (h *Handlers) Link(url string, tags []string) (string, error) {
	title := fetchTitle(h.httpClient(), url)
	store := jsonfile.Open(h.Cfg.BookmarksPath())
	var f bookmarksFile
	err := store.Update(&f, func() error {
		f.Links = append(f.Links, bookmark{URL: url, Title: title, Tags: tags, SavedAt: time.Now().UTC()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("commands: link: %w", err)
	}
	return fmt.Sprintf("Saved: %s", title), nil
}

// Recall implements the /recall local command over the memory substrate.
func (h *Handlers) Recall(ctx context.Context, query string) (string, error) {
	result, err := h.Memory.Recall(ctx, query, 5)
	if err != nil {
		return "", err
	}
	if result == "" {
		return "No relevant memories found.", nil
	}
	return result, nil
}

// Briefing renders a same-day summary of tasks and pending questions.
func (h *Handlers) Briefing(ctx context.Context) (string, error) {
	c, err := h.Tasks.Counts(ctx)
	if err != nil {
		return "", err
	}
	pendingCount, err := h.Rendezvous.Count(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Briefing: %d in progress, %d blocked, %d ready for testing, %d pending question(s).",
		c.InProgress, c.Blocked, c.ReadyForTesting, pendingCount,
	), nil
}

// WeeklyReview joins completed-task counts with lesson-log line counts for
// the past 7 days, grounded on chat-router.py's daily-digest shape.
func (h *Handlers) WeeklyReview(ctx context.Context) (string, error) {
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	completed, err := h.Tasks.CountCompletedSince(ctx, since)
	if err != nil {
		return "", err
	}
	lessons := countLessonsSince(h.Cfg.LessonsLogPath(), since)
	return fmt.Sprintf("Weekly review: %d task(s) completed, %d lesson(s) recorded.", completed, lessons), nil
}

func countLessonsSince(path string, since time.Time) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.Index(line, "]")
		if end < 0 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, line[1:end])
		if err != nil {
			continue
		}
		if !ts.Before(since) {
			count++
		}
	}
	return count
}

// GmailUnread renders the unread-count façade as a chat reply.
func (h *Handlers) GmailUnread(ctx context.Context) (string, error) {
	n, err := h.Google.CountUnread(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d unread email(s).", n), nil
}

// GmailInbox renders a short inbox preview as a chat reply.
func (h *Handlers) GmailInbox(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = 10
	}
	emails, err := h.Google.ListEmails(ctx, "", limit)
	if err != nil {
		return "", err
	}
	if len(emails) == 0 {
		return "Inbox is empty.", nil
	}
	lines := make([]string, 0, len(emails)+1)
	lines = append(lines, "Inbox:")
	for _, e := range emails {
		lines = append(lines, fmt.Sprintf("- %s: %s", e.From, e.Subject))
	}
	return strings.Join(lines, "\n"), nil
}

// CalendarToday renders today's events as a chat reply.
func (h *Handlers) CalendarToday(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return h.formatEvents(ctx, from, from.Add(24*time.Hour), "Today")
}

// CalendarWeek renders the next 7 days of events as a chat reply.
func (h *Handlers) CalendarWeek(ctx context.Context) (string, error) {
	from := time.Now().UTC()
	return h.formatEvents(ctx, from, from.Add(7*24*time.Hour), "This week")
}

func (h *Handlers) formatEvents(ctx context.Context, from, to time.Time, title string) (string, error) {
	events, err := h.Google.ListEvents(ctx, from, to)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return title + ": no events.", nil
	}
	lines := make([]string, 0, len(events)+1)
	lines = append(lines, title+":")
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("- %s: %s", e.StartTime.Format("Jan 2 15:04"), e.Summary))
	}
	return strings.Join(lines, "\n"), nil
}

// Weather is a thin façade over the configured OpenWeather backend, per
// SPEC_FULL.md §5.7 — no third-party client exists in the retrieval pack
// for this API, so it goes through net/http directly (see DESIGN.md).
func (h *Handlers) Weather(ctx context.Context) (string, error) {
	if h.Cfg.Tools.OpenWeatherAPIKey == "" || h.Cfg.Tools.WeatherLocation == "" {
		return "Weather is not configured.", nil
	}
	url := fmt.Sprintf(
		"https://api.openweathermap.org/data/2.5/weather?q=%s&appid=%s&units=metric",
		strings.ReplaceAll(h.Cfg.Tools.WeatherLocation, " ", "+"), h.Cfg.Tools.OpenWeatherAPIKey,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("commands: weather: %w", err)
	}
	resp, err := h.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("commands: weather: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("commands: weather: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "Weather lookup failed.", nil
	}
	return strings.TrimSpace(string(body)), nil
}

// Search is a thin façade over a configured SearXNG instance, per
// SPEC_FULL.md §5.7.
func (h *Handlers) Search(ctx context.Context, query string) (string, error) {
	if h.Cfg.Tools.SearXNGURL == "" {
		return "Search is not configured.", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/search?q=%s&format=json", strings.TrimRight(h.Cfg.Tools.SearXNGURL, "/"), queryEscape(query)), nil)
	if err != nil {
		return "", fmt.Errorf("commands: search: %w", err)
	}
	resp, err := h.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("commands: search: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("commands: search: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "Search failed.", nil
	}
	return strings.TrimSpace(string(body)), nil
}

func queryEscape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, " ", "+"), "&", "%26")
}
