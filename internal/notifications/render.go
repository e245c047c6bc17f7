package notifications

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/adrg/xdg"

	"taskcycle/internal/alerts"
	"taskcycle/internal/recurrence"
)

const defaultTemplateText = `{{.Title}}{{if .Project}} [{{.Project}}]{{end}}
Due {{.Due}} ({{.Offset}}){{if .Recurrence}}
Repeats {{.Recurrence}}{{end}}`

// TemplateData is what notification templates can refer to
type TemplateData struct {
	ID          string
	Title       string
	Description string
	Project     string
	Labels      []string
	Due         string
	DueDate     string
	Offset      string
	Recurrence  string
	Priority    string
	Late        bool
}

// NewTemplateData builds the template view of an alert
func NewTemplateData(req alerts.AlertRequest) TemplateData {
	due := req.Due.In(time.Local)
	data := TemplateData{
		ID:          req.Task.ID,
		Title:       req.Task.Title,
		Description: req.Task.Description,
		Project:     req.Task.Project,
		Labels:      req.Task.Labels,
		Due:         due.Format("15:04"),
		DueDate:     due.Format("2006-01-02"),
		Offset:      formatOffset(req.Offset),
		Priority:    req.Priority.String(),
		Late:        req.Late,
	}
	if rule, ok := recurrence.Parse(req.Task.Recurring).Get(); ok {
		data.Recurrence = rule.Describe()
	}
	return data
}

// Renderer turns alerts into notification text using named templates
type Renderer struct {
	dir      string
	fallback *template.Template
	cache    map[string]*template.Template
	mutex    sync.Mutex
}

// NewRenderer loads templates from dir. An empty dir means the XDG config
// location taskcycle/templates.
func NewRenderer(dir string) *Renderer {
	return &Renderer{
		dir:      dir,
		fallback: template.Must(template.New("default").Parse(defaultTemplateText)),
		cache:    make(map[string]*template.Template),
	}
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	if name == "" {
		return r.fallback, nil
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if tmpl, ok := r.cache[name]; ok {
		return tmpl, nil
	}

	var path string
	if r.dir != "" {
		path = filepath.Join(r.dir, name)
	} else {
		found, err := xdg.SearchConfigFile(filepath.Join("taskcycle", "templates", name))
		if err != nil {
			return nil, fmt.Errorf("template %s not found: %w", name, err)
		}
		path = found
	}
	tmpl, err := LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	r.cache[name] = tmpl
	return tmpl, nil
}

// Invalidate drops cached templates so edits are picked up
func (r *Renderer) Invalidate() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cache = make(map[string]*template.Template)
}

// Render returns the title and body for req. When the named template
// cannot be used the built-in one is rendered and the error returned
// alongside.
func (r *Renderer) Render(req alerts.AlertRequest) (string, string, error) {
	data := NewTemplateData(req)
	title := data.Title
	if req.Late {
		title = "Missed: " + title
	}

	tmpl, tmplErr := r.lookup(req.Template)
	if tmplErr == nil {
		var buf bytes.Buffer
		err := tmpl.Execute(&buf, data)
		if err == nil {
			return title, strings.TrimSpace(buf.String()), nil
		}
		tmplErr = fmt.Errorf("template %s: %w", req.Template, err)
	}

	var buf bytes.Buffer
	if err := r.fallback.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute default template: %w", err)
	}
	return title, strings.TrimSpace(buf.String()), tmplErr
}

// LoadTemplate parses the template file at path
func LoadTemplate(path string) (*template.Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", path, err)
	}
	tmpl, err := template.New(filepath.Base(path)).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	return tmpl, nil
}

// ValidateTemplate executes tmpl against sample data
func ValidateTemplate(tmpl *template.Template) error {
	sample := TemplateData{
		ID:         "sample",
		Title:      "Water the plants",
		Project:    "home",
		Labels:     []string{"chores"},
		Due:        "09:00",
		DueDate:    "2024-03-01",
		Offset:     "15 minutes",
		Recurrence: "weekly on Fri",
		Priority:   "normal",
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, sample); err != nil {
		return fmt.Errorf("template validation failed: %w", err)
	}
	return nil
}

var builtinTemplates = map[string]string{
	"default.tpl": defaultTemplateText,
	"detailed.tpl": `{{.Title}}{{if .Project}} [{{.Project}}]{{end}}
Due {{.DueDate}} {{.Due}} ({{.Offset}}){{if .Recurrence}}
Repeats {{.Recurrence}}{{end}}{{if .Description}}
{{.Description}}{{end}}{{if .Labels}}
Labels: {{range $i, $l := .Labels}}{{if $i}}, {{end}}{{$l}}{{end}}{{end}}`,
	"minimal.tpl": `{{.Title}} due {{.Due}}`,
}

// CreateDefaultTemplates writes the built-in templates into dir, or the
// XDG template directory when dir is empty. Existing files are kept.
func CreateDefaultTemplates(dir string) (string, error) {
	if dir == "" {
		marker, err := xdg.ConfigFile(filepath.Join("taskcycle", "templates", "default.tpl"))
		if err != nil {
			return "", fmt.Errorf("failed to get templates directory: %w", err)
		}
		dir = filepath.Dir(marker)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create templates directory: %w", err)
	}
	for name, content := range builtinTemplates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("failed to create template %s: %w", name, err)
		}
	}
	return dir, nil
}

// formatOffset describes how long before the due date an alert fires
func formatOffset(d time.Duration) string {
	switch {
	case d == 0:
		return "now"
	case d < 0:
		return formatDuration(-d) + " ago"
	}
	return "in " + formatDuration(d)
}

func formatDuration(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d < time.Minute:
		return plural(int(d.Seconds()), "second")
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	}
	return plural(int(d.Hours()/24), "day")
}
