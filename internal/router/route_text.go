package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nrlabs/ashleyd/internal/jobs"
	"github.com/nrlabs/ashleyd/internal/memory"
)

type routeRequest struct {
	Text string `json:"text"`
}

type routeResponse struct {
	Reply string `json:"reply"`
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], " ") + "…"
}

// handleRoute implements POST /route: body {"text"}, classifies via
// routeText and always replies 200 unless the body is not JSON.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req routeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reply := s.routeText(r.Context(), req.Text)
	writeJSON(w, routeResponse{Reply: reply})
}

// routeText implements spec.md §4.1's route_text classification ladder,
// applied in declared order with first-match-wins.
func (s *Server) routeText(ctx context.Context, text string) string {
	trimmed := strings.TrimSpace(text)

	if arg, ok := cutPrefix(trimmed, "/plan"); ok {
		if arg == "" {
			return "Usage: /plan <request>"
		}
		go s.Pipelines.Plan(context.Background(), arg)
		return "Queued for planner: " + preview(arg, 80)
	}
	if arg, ok := cutPrefixAny(trimmed, "/prompt", "/thinkdry"); ok {
		if arg == "" {
			return "Usage: /prompt <request>"
		}
		go s.Pipelines.PromptDry(context.Background(), arg)
		return "Queued prompt optimization: " + preview(arg, 80)
	}
	if arg, ok := cutPrefix(trimmed, "/think"); ok {
		if arg == "" {
			return "Usage: /think <request>"
		}
		go s.Pipelines.Think(context.Background(), arg)
		return "Queued for think+plan: " + preview(arg, 80)
	}
	if arg, ok := cutPrefix(trimmed, "/lesson"); ok {
		if arg == "" {
			return "Usage: /lesson <text>"
		}
		out, err := s.Commands.Lesson(ctx, arg)
		return handlerResult(out, err)
	}
	if arg, ok := cutPrefix(trimmed, "/project"); ok {
		if arg == "" {
			return "Usage: /project [<proj>|]<note>"
		}
		out, err := s.Commands.Project(ctx, arg)
		return handlerResult(out, err)
	}
	if arg, ok := cutPrefix(trimmed, "/adhoc"); ok {
		if arg == "" {
			return "Usage: /adhoc <instruction>"
		}
		go s.Pipelines.Adhoc(context.Background(), arg)
		return "Queued ad-hoc instruction: " + preview(arg, 80)
	}
	if arg, ok := cutPrefix(trimmed, "/ask"); ok {
		if arg == "" {
			return "Usage: /ask [<agent>] <question>"
		}
		agent, question := splitAgentArg(arg)
		go s.Pipelines.Ask(context.Background(), agent, question)
		return ""
	}
	if arg, ok := cutPrefix(trimmed, "/schedule"); ok {
		return s.handleScheduleCommand(ctx, arg)
	}
	if arg, ok := cutPrefix(trimmed, "/deletejob"); ok {
		return s.handleDeleteJobCommand(ctx, arg)
	}
	if trimmed == "/jobs" {
		list, err := s.Jobs.List(ctx)
		if err != nil {
			return "Could not list jobs."
		}
		return jobs.FormatJobs(list)
	}
	if trimmed == "/pending" {
		out, err := s.Commands.Pending(ctx)
		return handlerResult(out, err)
	}
	if arg, ok := cutPrefix(trimmed, "/answer"); ok {
		if arg == "" {
			return "Usage: /answer <text>"
		}
		out, err := s.Commands.Answer(ctx, arg)
		return handlerResult(out, err)
	}
	if reply, handled := s.dispatchLocalCommand(ctx, trimmed); handled {
		return reply
	}

	return s.fallthroughToPlanner(ctx, trimmed)
}

// cutPrefix matches a case-insensitive leading token and returns the
// trimmed remainder, or ok=false if the token is not a prefix of text.
func cutPrefix(text, token string) (string, bool) {
	if len(text) < len(token) {
		return "", false
	}
	if !strings.EqualFold(text[:len(token)], token) {
		return "", false
	}
	rest := text[len(token):]
	if rest != "" && !strings.HasPrefix(rest, " ") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func cutPrefixAny(text string, tokens ...string) (string, bool) {
	for _, t := range tokens {
		if arg, ok := cutPrefix(text, t); ok {
			return arg, true
		}
	}
	return "", false
}

// splitAgentArg implements /ask's "[<agent>] <question>" form: if the
// first whitespace-delimited word names a known agent role, it is taken
// as the agent; otherwise the whole arg is the question to the planner.
func splitAgentArg(arg string) (agent, question string) {
	fields := strings.SplitN(arg, " ", 2)
	if len(fields) == 2 {
		switch strings.ToLower(fields[0]) {
		case "planner", "coder", "tester":
			return strings.ToLower(fields[0]), strings.TrimSpace(fields[1])
		}
	}
	return "planner", arg
}

func (s *Server) handleScheduleCommand(ctx context.Context, arg string) string {
	fields := strings.SplitN(arg, " ", 6)
	if len(fields) < 6 {
		return "Usage: /schedule <min> <hr> <dom> <mon> <dow> <description>"
	}
	cron := strings.Join(fields[:5], " ")
	description := strings.TrimSpace(fields[5])
	unitName, err := s.Jobs.Schedule(ctx, cron, description)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("Scheduled %s.", unitName)
}

func (s *Server) handleDeleteJobCommand(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /deletejob <id|all>"
	}
	n, err := s.Jobs.Delete(ctx, arg)
	if err != nil {
		return "Could not delete job."
	}
	return fmt.Sprintf("Removed %d job(s).", n)
}

// dispatchLocalCommand implements ladder item 11: the shared local-command
// shortlist also used by the channel poller (internal/commands.Handlers).
func (s *Server) dispatchLocalCommand(ctx context.Context, text string) (string, bool) {
	lower := strings.ToLower(text)
	switch {
	case lower == "/help":
		return s.Commands.Help(), true
	case lower == "/tasks":
		return handlerResult(s.Commands.Tasks(ctx)), true
	case lower == "/blockers":
		return handlerResult(s.Commands.Blockers(ctx)), true
	case lower == "/todo":
		return handlerResult(s.Commands.Todo(ctx)), true
	case lower == "/readyfortesting":
		return handlerResult(s.Commands.ReadyForTesting(ctx)), true
	case lower == "/inprogress":
		return handlerResult(s.Commands.InProgress(ctx)), true
	case lower == "/digest" || lower == "/digest now":
		return handlerResult(s.Commands.Digest(ctx)), true
	case strings.HasPrefix(lower, "/task "):
		return handlerResult(s.Commands.Task(ctx, strings.TrimSpace(text[len("/task "):]))), true
	case strings.HasPrefix(lower, "/unblock "):
		return handlerResult(s.dispatchUnblock(ctx, text[len("/unblock "):])), true
	case strings.HasPrefix(lower, "/retry "):
		return handlerResult(s.Commands.Retry(ctx, strings.TrimSpace(text[len("/retry "):]))), true
	case strings.HasPrefix(lower, "/note "):
		return handlerResult(s.Commands.Note(strings.TrimSpace(text[len("/note "):]))), true
	case strings.HasPrefix(lower, "/link "):
		return handlerResult(s.dispatchLink(text[len("/link "):])), true
	case strings.HasPrefix(lower, "/recall "):
		return handlerResult(s.Commands.Recall(ctx, strings.TrimSpace(text[len("/recall "):]))), true
	case lower == "/briefing":
		return handlerResult(s.Commands.Briefing(ctx)), true
	case lower == "/weeklyreview":
		return handlerResult(s.Commands.WeeklyReview(ctx)), true
	case lower == "/gmailunread":
		return handlerResult(s.Commands.GmailUnread(ctx)), true
	case lower == "/gmailinbox":
		return handlerResult(s.Commands.GmailInbox(ctx, 10)), true
	case lower == "/calendartoday":
		return handlerResult(s.Commands.CalendarToday(ctx)), true
	case lower == "/calendarweek":
		return handlerResult(s.Commands.CalendarWeek(ctx)), true
	case lower == "/weather":
		return handlerResult(s.Commands.Weather(ctx)), true
	case strings.HasPrefix(lower, "/search "):
		return handlerResult(s.Commands.Search(ctx, strings.TrimSpace(text[len("/search "):]))), true
	}
	return "", false
}

func (s *Server) dispatchUnblock(ctx context.Context, arg string) (string, error) {
	fields := strings.SplitN(strings.TrimSpace(arg), " ", 3)
	id := fields[0]
	status := ""
	note := ""
	if len(fields) > 1 {
		status = fields[1]
	}
	if len(fields) > 2 {
		note = fields[2]
	}
	return s.Commands.Unblock(ctx, id, status, note)
}

func (s *Server) dispatchLink(arg string) (string, error) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return "Usage: /link <url> [tags...]", nil
	}
	return s.Commands.Link(fields[0], fields[1:])
}

// fallthroughToPlanner implements ladder item 12: record to the
// conversation buffer and vector memory, retrieve semantic context, and
// dispatch the planner worker with both.
func (s *Server) fallthroughToPlanner(ctx context.Context, text string) string {
	if text == "" {
		return "Usage: send a message or command."
	}

	ring := memory.NewConversationRing(s.Cfg.ConversationBufferPath())
	ring.Append("user", text, time.Now().UTC())

	if s.Memory != nil {
		s.Memory.StoreConversation(ctx, text, "owner")
	}

	var prompt strings.Builder

	if s.Memory != nil {
		if recalled, err := s.Memory.Recall(ctx, text, 5); err == nil && recalled != "" {
			prompt.WriteString(recalled)
			prompt.WriteString("\n\n")
		}
	}

	if entries, err := ring.Last(10); err == nil && len(entries) > 0 {
		prompt.WriteString("Recent conversation:")
		for _, e := range entries {
			fmt.Fprintf(&prompt, "\n[%s] %s", e.Role, e.Text)
		}
		prompt.WriteString("\n\n")
	}

	prompt.WriteString(text)

	go s.Pipelines.Plan(context.Background(), prompt.String())
	return "Queued for planner: " + preview(text, 80)
}

func handlerResult(out string, err error) string {
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}
