package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/memory"
)

// truncateSuffix is appended when an owner-facing reply is cut at the
// 3500-char budget spec.md §5 sets for subprocess output.
const (
	truncateLimit  = 3500
	truncateSuffix = "\n…<truncated>"
)

// OwnerNotifier delivers a pre-computed agent answer to the owner over the
// chat transport, matching the POST /owner-message contract of spec.md §4.1.
type OwnerNotifier interface {
	Notify(ctx context.Context, agent, question, response string) error
}

// PlannedTask is one entry of the plan pipeline's extracted JSON payload,
// per spec.md §6.3.
type PlannedTask struct {
	Name     string `json:"name"`
	Phase    string `json:"phase"`
	Priority int    `json:"priority"`
	Plan     string `json:"plan"`
	Notes    string `json:"notes"`
}

// PlanPayload is the full JSON object the plan pipeline extracts from agent
// output.
type PlanPayload struct {
	Project string        `json:"project"`
	Tasks   []PlannedTask `json:"tasks"`
}

// Pipelines bundles the dependencies shared by the think/plan/adhoc/ask/
// prompt-dry pipelines (spec.md §4.2).
type Pipelines struct {
	Cfg      *config.Config
	Invoker  *Invoker
	Notifier OwnerNotifier
	Logger   *slog.Logger

	// AddTasksScript and TaskManagerScript are the external collaborator
	// scripts named in spec.md §4.2's plan pipeline; interfaces only, per
	// spec.md §1 Non-goals ("no reimplementation of ... the task-manager").
	AddTasksScript    string
	TaskManagerScript string

	LessonsLogPath string
	DispatchLogDir string
}

func (p *Pipelines) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// dispatchLogPath returns the per-pipeline log file path spec.md §6.7 names
// (chat-router-<pipeline>.log).
func (p *Pipelines) dispatchLogPath(pipeline string) string {
	dir := p.DispatchLogDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("chat-router-%s.log", pipeline))
}

func (p *Pipelines) appendLog(pipeline, text string) {
	path := p.dispatchLogPath(pipeline)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		p.logger().Warn("dispatch log open failed", "pipeline", pipeline, "path", path, "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), text)
}

func truncateForOwner(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= truncateLimit {
		return s
	}
	return s[:truncateLimit] + truncateSuffix
}

// extractJSON scans for the outermost {...} pair, first '{' through last
// '}', per spec.md §9 "JSON extraction by brace matching" — the plan
// pipeline's agents frequently emit surrounding commentary.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// stripFences removes surrounding triple-backtick fences and a single layer
// of outer quotes from agent output, per spec.md §4.2's think pipeline.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 {
			// drop an optional language tag on the fence's first line
			firstLine := s[:idx]
			if !strings.ContainsAny(firstLine, " \t") && len(firstLine) < 20 {
				s = s[idx+1:]
			}
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(s)
}

func lastLessons(path string, n int) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var nonEmpty []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) > n {
		nonEmpty = nonEmpty[len(nonEmpty)-n:]
	}
	return nonEmpty
}

// planTimeout is hardcoded rather than exposed as a config/env knob,
// matching the original chat-router.py's agent_cmd("planner", prompt, 1200).
const planTimeout = 1200 * time.Second

func (p *Pipelines) timeoutFor(pipeline string) time.Duration {
	switch pipeline {
	case "plan":
		return planTimeout
	case "think", "prompt-dry":
		return p.Cfg.General.ThinkTimeout.Duration
	case "adhoc":
		return p.Cfg.General.AdhocTimeout.Duration
	default:
		return p.Cfg.General.AskTimeout.Duration
	}
}

// Plan runs the plan pipeline: synchronous after launch, intended to be
// called in a background goroutine by the router (spec.md §4.2).
func (p *Pipelines) Plan(ctx context.Context, request string) {
	lessons := lastLessons(p.LessonsLogPath, 10)
	var prompt strings.Builder
	prompt.WriteString("You are the planning agent. Break the following request into tasks.\n\n")
	prompt.WriteString("Request:\n")
	prompt.WriteString(request)
	if len(lessons) > 0 {
		prompt.WriteString("\n\nRecent lessons:\n")
		for _, l := range lessons {
			prompt.WriteString("- ")
			prompt.WriteString(l)
			prompt.WriteString("\n")
		}
	}

	temp := p.Cfg.Temperature("planner")
	thinking := ThinkingFromTemp(temp)
	timeout := p.timeoutFor("plan")

	dispatchID := uuid.NewString()
	p.appendLog("planner", fmt.Sprintf("[%s] Request: %s", dispatchID, request))
	res := p.Invoker.InvokeAgent(ctx, "planner", prompt.String(), timeout, thinking)
	p.appendLog("planner", fmt.Sprintf("[%s] %s", dispatchID, res.Output))
	if res.Err != nil {
		p.logger().Warn("plan pipeline agent invocation failed", "error", res.Err)
		return
	}

	payload := extractJSON(res.Output)
	if payload == "" {
		p.logger().Info("plan pipeline produced no JSON payload")
		return
	}

	var plan PlanPayload
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		p.logger().Warn("plan pipeline JSON payload did not parse", "error", err)
		return
	}

	if p.AddTasksScript == "" {
		return
	}
	tmpFile, err := WritePromptFile(payload)
	if err != nil {
		p.logger().Warn("plan pipeline failed writing payload for add-tasks", "error", err)
		return
	}
	defer os.Remove(tmpFile)

	addRes := p.Invoker.Invoke(ctx, timeout, p.AddTasksScript, tmpFile)
	if addRes.Err != nil {
		p.logger().Warn("add-tasks script failed", "error", addRes.Err, "output", addRes.Output)
		return
	}

	if p.TaskManagerScript != "" {
		if err := FireAndForget(p.TaskManagerScript); err != nil {
			p.logger().Warn("task-manager fire-and-forget failed to start", "error", err)
		}
	}
}

// Think runs the think pipeline: optimize the request, then tail-call Plan
// on the optimized text, per spec.md §4.2.
func (p *Pipelines) Think(ctx context.Context, request string) {
	optimized, ok := p.optimize(ctx, request)
	if !ok {
		return
	}
	p.Plan(ctx, optimized)
}

// PromptDry runs the prompt-dry pipeline: optimize, then deliver the
// optimized text to the owner instead of dispatching plan.
func (p *Pipelines) PromptDry(ctx context.Context, request string) {
	optimized, ok := p.optimize(ctx, request)
	if !ok {
		return
	}
	p.deliver(ctx, "planner", request, truncateForOwner(optimized))
}

func (p *Pipelines) optimize(ctx context.Context, request string) (string, bool) {
	prompt := "Rewrite the following request into a single, clear, optimized prompt. " +
		"Respond with only the rewritten prompt.\n\nRequest:\n" + request

	temp := p.Cfg.Temperature("planner")
	thinking := ThinkingFromTemp(temp)
	timeout := p.timeoutFor("think")

	dispatchID := uuid.NewString()
	res := p.Invoker.InvokeAgent(ctx, "planner", prompt, timeout, thinking)
	p.appendLog("think", fmt.Sprintf("[%s] %s", dispatchID, res.Output))

	if res.TimedOut {
		p.deliver(ctx, "planner", request, fmt.Sprintf("timed out after %.0fs", timeout.Seconds()))
		return "", false
	}
	if res.Err != nil {
		p.deliver(ctx, "planner", request, "completed without output")
		return "", false
	}

	return stripFences(res.Output), true
}

// Ask runs the ask pipeline: spawn the target agent with an answer-only
// prompt and deliver the (truncated) answer to the owner. No task-table
// mutation is permitted, per spec.md §4.2.
func (p *Pipelines) Ask(ctx context.Context, agent, question string) {
	if agent == "" {
		agent = "planner"
	}
	prompt := "Answer the following question directly. Do not modify any task records.\n\nQuestion:\n" + question

	temp := p.Cfg.Temperature(agent)
	thinking := ThinkingFromTemp(temp)
	timeout := p.timeoutFor("ask")

	dispatchID := uuid.NewString()
	res := p.Invoker.InvokeAgent(ctx, agent, prompt, timeout, thinking)
	p.appendLog("ask", fmt.Sprintf("[%s] %s", dispatchID, res.Output))

	answer := p.renderResult(res, timeout)
	p.deliver(ctx, agent, question, truncateForOwner(answer))
}

// Adhoc runs the adhoc pipeline: like Ask but targeted at coder by default
// with the longer adhoc timeout, explicitly forbidding task-table writes.
func (p *Pipelines) Adhoc(ctx context.Context, instruction string) {
	agent := "coder"
	prompt := "Carry out the following ad-hoc instruction. Do not create, update, or close any task records.\n\nInstruction:\n" + instruction

	temp := p.Cfg.Temperature(agent)
	thinking := ThinkingFromTemp(temp)
	timeout := p.timeoutFor("adhoc")

	dispatchID := uuid.NewString()
	res := p.Invoker.InvokeAgent(ctx, agent, prompt, timeout, thinking)
	p.appendLog("adhoc", fmt.Sprintf("[%s] %s", dispatchID, res.Output))

	answer := p.renderResult(res, timeout)
	p.deliver(ctx, agent, instruction, truncateForOwner(answer))
}

func (p *Pipelines) renderResult(res Result, timeout time.Duration) string {
	if res.TimedOut {
		return fmt.Sprintf("timed out after %.0fs", timeout.Seconds())
	}
	if res.Err != nil {
		return "completed without output"
	}
	if strings.TrimSpace(res.Output) == "" {
		return "completed without output"
	}
	return res.Output
}

func (p *Pipelines) deliver(ctx context.Context, agent, question, response string) {
	if p.Cfg != nil {
		ring := memory.NewConversationRing(p.Cfg.ConversationBufferPath())
		ring.Append("ashley", response, time.Now().UTC())
	}
	if p.Notifier == nil {
		return
	}
	if err := p.Notifier.Notify(ctx, agent, question, response); err != nil {
		p.logger().Warn("owner delivery failed", "agent", agent, "error", err)
	}
}
