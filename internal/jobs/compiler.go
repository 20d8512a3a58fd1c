package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Metadata is the per-job metadata JSON artifact named in spec.md §3.
type Metadata struct {
	JobID        string    `json:"job_id"`
	Cron         string    `json:"cron"`
	CalendarSpec string    `json:"calendar_spec"`
	Description  string    `json:"description"`
	UnitName     string    `json:"unit_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Payload is the canned HTTP body each job's service unit POSTs back to
// the router on timer fire, per spec.md §4.4 step 4.
type Payload struct {
	Text string `json:"text"`
}

// Job is the fully resolved view List returns, combining metadata with
// live supervisor state.
type Job struct {
	Metadata
	Active      string
	NextElapse  string
}

// Compiler implements schedule_job/list_jobs/delete_job, per spec.md §4.4.
type Compiler struct {
	UnitDir    string
	UnitPrefix string
	Port       int
	Supervisor *Supervisor
}

// NewCompiler returns a Compiler writing units into unitDir.
func NewCompiler(unitDir, unitPrefix string, port int) *Compiler {
	return &Compiler{UnitDir: unitDir, UnitPrefix: unitPrefix, Port: port, Supervisor: NewSupervisor()}
}

func (c *Compiler) paths(unitName string) (service, timer, meta, payload string) {
	base := filepath.Join(c.UnitDir, unitName)
	return base + ".service", base + ".timer", base + ".meta.json", base + ".payload.json"
}

// Schedule runs the full compilation pipeline of spec.md §4.4: parse,
// translate, identify, write, activate. Returns the new job's unit name.
func (c *Compiler) Schedule(ctx context.Context, cron, description string) (string, error) {
	fields, err := ParseCron(cron)
	if err != nil {
		return "", fmt.Errorf("Invalid cron expression. %s", err)
	}
	calendarSpec := ToCalendarSpec(fields)

	now := time.Now().UTC()
	slug := Slugify(description)
	hash6 := Hash6(slug, now)
	unitName := UnitName(c.UnitPrefix, slug, hash6)

	if err := os.MkdirAll(c.UnitDir, 0755); err != nil {
		return "", fmt.Errorf("jobs: create unit dir: %w", err)
	}

	servicePath, timerPath, metaPath, payloadPath := c.paths(unitName)

	payload := Payload{Text: "/think " + description}
	payloadBytes, _ := json.MarshalIndent(payload, "", "  ")
	if err := os.WriteFile(payloadPath, payloadBytes, 0644); err != nil {
		return "", fmt.Errorf("jobs: write payload: %w", err)
	}

	serviceUnit := fmt.Sprintf(`[Unit]
Description=%s (ashleyd job %s)

[Service]
Type=oneshot
ExecStart=/usr/bin/curl -X POST http://127.0.0.1:%d/route -d @%s
`, description, unitName, c.Port, payloadPath)
	if err := os.WriteFile(servicePath, []byte(serviceUnit), 0644); err != nil {
		return "", fmt.Errorf("jobs: write service unit: %w", err)
	}

	timerUnit := fmt.Sprintf(`[Unit]
Description=%s (ashleyd timer %s)

[Timer]
OnCalendar=%s
Persistent=true

[Install]
WantedBy=timers.target
`, description, unitName, calendarSpec)
	if err := os.WriteFile(timerPath, []byte(timerUnit), 0644); err != nil {
		return "", fmt.Errorf("jobs: write timer unit: %w", err)
	}

	meta := Metadata{
		JobID:        unitName,
		Cron:         cron,
		CalendarSpec: calendarSpec,
		Description:  description,
		UnitName:     unitName,
		CreatedAt:    now,
	}
	metaBytes, _ := json.MarshalIndent(meta, "", "  ")
	if err := os.WriteFile(metaPath, metaBytes, 0644); err != nil {
		return "", fmt.Errorf("jobs: write metadata: %w", err)
	}

	if err := c.Supervisor.DaemonReload(ctx); err != nil {
		return "", err
	}
	timerUnitName := unitName + ".timer"
	if err := c.Supervisor.EnableNow(ctx, timerUnitName); err != nil {
		return "", err
	}

	return unitName, nil
}

// List enumerates metadata files by prefix and reports each job's live
// timer state, per spec.md §4.4's list_jobs. Malformed metadata files are
// silently skipped.
func (c *Compiler) List(ctx context.Context) ([]Job, error) {
	pattern := filepath.Join(c.UnitDir, c.UnitPrefix+"-*.meta.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("jobs: list: %w", err)
	}
	sort.Strings(matches)

	jobs := make([]Job, 0, len(matches))
	for _, path := range matches {
		meta, ok := readMetadata(path)
		if !ok {
			continue
		}
		timerUnit := meta.UnitName + ".timer"
		jobs = append(jobs, Job{
			Metadata:   meta,
			Active:     c.Supervisor.IsActive(ctx, timerUnit),
			NextElapse: c.Supervisor.NextElapse(ctx, timerUnit),
		})
	}
	return jobs, nil
}

// Delete removes a job by id, or every job when id == "all", per spec.md
// §4.4's delete_job. Returns the number of jobs removed.
func (c *Compiler) Delete(ctx context.Context, id string) (int, error) {
	pattern := filepath.Join(c.UnitDir, c.UnitPrefix+"-*.meta.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("jobs: delete: %w", err)
	}

	removed := 0
	for _, path := range matches {
		meta, ok := readMetadata(path)
		if !ok {
			if id == "all" {
				os.Remove(path)
			}
			continue
		}
		if id != "all" && meta.UnitName != id {
			continue
		}
		timerUnit := meta.UnitName + ".timer"
		_ = c.Supervisor.DisableNow(ctx, timerUnit)

		service, timer, metaPath, payload := c.paths(meta.UnitName)
		for _, f := range []string{service, timer, metaPath, payload} {
			os.Remove(f)
		}
		removed++
	}
	if removed > 0 {
		if err := c.Supervisor.DaemonReload(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func readMetadata(path string) (Metadata, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, false
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, false
	}
	if meta.UnitName == "" {
		return Metadata{}, false
	}
	return meta, true
}

// FormatJob renders one job's listing line for the /jobs local command.
func FormatJob(j Job) string {
	return fmt.Sprintf("%s — Cron=%q Status=%s Next=%s — %s", j.UnitName, j.Cron, j.Active, j.NextElapse, j.Description)
}

// FormatJobs renders the full /jobs listing.
func FormatJobs(jobs []Job) string {
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	lines := make([]string, 0, len(jobs))
	for _, j := range jobs {
		lines = append(lines, FormatJob(j))
	}
	return strings.Join(lines, "\n")
}
