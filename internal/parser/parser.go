// Package parser imports calendar events from .ics files as tasks.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	duration "github.com/ChannelMeter/iso8601duration"
	"github.com/apognu/gocal"
	"github.com/rs/zerolog"

	"taskcycle/internal/recurrence"
	"taskcycle/internal/task"
)

// RRULE parts that carry no meaning for task scheduling
var ignoredRuleParts = map[string]bool{
	"WKST": true,
}

// Importer converts VEVENTs into tasks
type Importer struct {
	maxEvents int
	log       zerolog.Logger
}

func NewImporter(log zerolog.Logger) *Importer {
	return &Importer{
		maxEvents: 10000,
		log:       log.With().Str("component", "parser").Logger(),
	}
}

// SetMaxEvents limits the number of tasks read from a single file
func (p *Importer) SetMaxEvents(max int) {
	p.maxEvents = max
}

// ParseFile imports a single .ics file. Tasks carry the file as Source.
func (p *Importer) ParseFile(path string) ([]task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	tasks, err := p.parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range tasks {
		tasks[i].Source = path
	}
	return tasks, nil
}

// ParseDirectory imports every .ics file below dir, keyed by file path.
// Files that fail to parse are logged and skipped.
func (p *Importer) ParseDirectory(dir string) (map[string][]task.Task, error) {
	result := make(map[string][]task.Task)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
			return nil
		}
		if d.IsDir() || !IsICS(path) {
			return nil
		}
		tasks, err := p.ParseFile(path)
		if err != nil {
			p.log.Error().Err(err).Msg("failed to parse file")
			return nil
		}
		result[path] = tasks
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", dir, err)
	}
	return result, nil
}

// ParseReader imports ICS data from r
func (p *Importer) ParseReader(r io.Reader) ([]task.Task, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return p.parse(data)
}

// IsICS reports whether path names an .ics file
func IsICS(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".ics")
}

func (p *Importer) parse(data []byte) ([]task.Task, error) {
	start := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2100, 12, 31, 23, 59, 59, 0, time.UTC)

	cal := gocal.NewParser(bytes.NewReader(data))
	cal.Start, cal.End = &start, &end
	if err := cal.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse ICS data: %w", err)
	}

	// gocal expands recurring events inside the window; the earliest
	// instance of each UID is the series start.
	first := make(map[string]gocal.Event)
	var order []string
	for _, ev := range cal.Events {
		if ev.Uid == "" || ev.Start == nil {
			p.log.Warn().Str("summary", ev.Summary).Msg("skipping event without UID or start")
			continue
		}
		seen, ok := first[ev.Uid]
		if !ok {
			order = append(order, ev.Uid)
		}
		if !ok || ev.Start.Before(*seen.Start) {
			first[ev.Uid] = ev
		}
	}

	alarms := scanAlarms(data, p.log)
	tasks := make([]task.Task, 0, len(order))
	for _, uid := range order {
		if len(tasks) >= p.maxEvents {
			p.log.Warn().Int("limit", p.maxEvents).Msg("event limit reached, skipping remaining events")
			break
		}
		tasks = append(tasks, p.convert(first[uid], alarms[uid]))
	}
	return tasks, nil
}

func (p *Importer) convert(ev gocal.Event, reminders []time.Duration) task.Task {
	due := *ev.Start
	t := task.Task{
		ID:          ev.Uid,
		TrackingID:  ev.Uid,
		Title:       ev.Summary,
		Description: ev.Description,
		DueDate:     &due,
		Reminders:   reminders,
	}
	if ev.Location != "" {
		t.Extra = map[string]any{"location": ev.Location}
	}
	if len(ev.RecurrenceRule) > 0 {
		rule, err := ruleFromParts(ev.RecurrenceRule)
		if err != nil {
			p.log.Warn().Err(err).Str("uid", ev.Uid).Msg("dropping unsupported recurrence rule")
		} else {
			t.Recurring = rule.String()
		}
	}
	return t
}

// ruleFromParts rebuilds an RRULE from gocal's part map and checks it strictly
func ruleFromParts(parts map[string]string) (recurrence.Rule, error) {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		if ignoredRuleParts[strings.ToUpper(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	segments := make([]string, len(keys))
	for i, k := range keys {
		segments[i] = k + "=" + parts[k]
	}
	return recurrence.Validate(recurrence.Prefix + strings.Join(segments, ";"))
}

// ApplyDefaults fills in the project and recurring mode of a collection
// where the imported tasks leave them empty
func ApplyDefaults(tasks []task.Task, project string, mode task.Mode) {
	for i := range tasks {
		if tasks[i].Project == "" {
			tasks[i].Project = project
		}
		if tasks[i].RecurringMode == "" {
			tasks[i].RecurringMode = mode
		}
	}
}

// ValidateICS performs a structural check of ICS data
func ValidateICS(data []byte) error {
	content := string(data)
	if !strings.Contains(content, "BEGIN:VCALENDAR") {
		return fmt.Errorf("missing BEGIN:VCALENDAR")
	}
	if !strings.Contains(content, "END:VCALENDAR") {
		return fmt.Errorf("missing END:VCALENDAR")
	}

	var stack []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "BEGIN:"):
			stack = append(stack, strings.TrimPrefix(line, "BEGIN:"))
		case strings.HasPrefix(line, "END:"):
			component := strings.TrimPrefix(line, "END:")
			if len(stack) == 0 {
				return fmt.Errorf("unexpected END:%s without matching BEGIN", component)
			}
			if stack[len(stack)-1] != component {
				return fmt.Errorf("mismatched BEGIN/END: expected %s, got %s", stack[len(stack)-1], component)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed BEGIN statements: %v", stack)
	}
	return nil
}

// unfold joins RFC 5545 continuation lines
func unfold(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// splitProperty separates "NAME;PARAM=x:value" into name, params and value
func splitProperty(line string) (name, params, value string) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return strings.ToUpper(line), "", ""
	}
	name = line[:colon]
	if semi := strings.IndexByte(name, ';'); semi >= 0 {
		name, params = name[:semi], name[semi+1:]
	}
	return strings.ToUpper(name), strings.ToUpper(params), line[colon+1:]
}

// scanAlarms collects the VALARM offsets of every VEVENT keyed by UID
func scanAlarms(data []byte, log zerolog.Logger) map[string][]time.Duration {
	result := make(map[string][]time.Duration)
	var (
		uid     string
		inEvent bool
		inAlarm bool
		block   []string
		pending []time.Duration
	)
	for _, line := range unfold(data) {
		name, _, value := splitProperty(line)
		switch {
		case name == "BEGIN" && value == "VEVENT":
			inEvent, uid, pending = true, "", nil
		case name == "END" && value == "VEVENT":
			if uid != "" && len(pending) > 0 {
				result[uid] = append(result[uid], pending...)
			}
			inEvent = false
		case !inEvent:
		case name == "BEGIN" && value == "VALARM":
			inAlarm, block = true, nil
		case name == "END" && value == "VALARM":
			inAlarm = false
			offset, err := parseAlarm(block)
			if err != nil {
				log.Debug().Err(err).Msg("ignoring alarm")
				continue
			}
			pending = append(pending, offset)
		case inAlarm:
			block = append(block, line)
		case name == "UID":
			uid = value
		}
	}
	return result
}

// parseAlarm returns the offset before the event start of a display or
// audio alarm with a relative trigger
func parseAlarm(lines []string) (time.Duration, error) {
	var (
		trigger string
		found   bool
	)
	for _, line := range lines {
		name, params, value := splitProperty(line)
		switch name {
		case "ACTION":
			switch strings.ToUpper(value) {
			case "DISPLAY", "AUDIO":
			default:
				return 0, fmt.Errorf("unsupported alarm action %s", value)
			}
		case "TRIGGER":
			if strings.Contains(params, "VALUE=DATE-TIME") {
				return 0, fmt.Errorf("absolute trigger %s", value)
			}
			trigger, found = value, true
		}
	}
	if !found {
		return 0, fmt.Errorf("alarm without trigger")
	}
	return parseTrigger(trigger)
}

// parseTrigger converts a relative TRIGGER duration to an offset before the
// start. "-PT15M" is 15 minutes before, "PT5M" is 5 minutes after.
func parseTrigger(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	before := false
	switch {
	case strings.HasPrefix(value, "-"):
		before = true
		value = value[1:]
	case strings.HasPrefix(value, "+"):
		value = value[1:]
	}
	d, err := duration.FromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid trigger %q: %w", value, err)
	}
	offset := d.ToDuration()
	if !before {
		offset = -offset
	}
	return offset, nil
}
