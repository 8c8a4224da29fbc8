package pipeline

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/ljtill/curate/pkg/models"
)

// linkRowTemplate is the table-row fragment the link-update event carries:
// an out-of-band swap target keyed by the link's row id, showing current
// status, run history, and a retry affordance once the link has failed.
var linkRowTemplate = template.Must(template.New("link-row").Parse(
	`<tr id="link-{{.ID}}" hx-swap-oob="true">` +
		`<td class="link-url"><a href="{{.URL}}">{{.Title}}</a></td>` +
		`<td class="link-status link-status-{{.Status}}">{{.Status}}</td>` +
		`<td class="link-runs">{{range .Runs}}<span class="run run-{{.Status}}" title="{{.Stage}}">{{.Stage}}</span>{{end}}</td>` +
		`<td class="link-actions">{{if .Failed}}<button hx-post="/api/links/{{.ID}}/retry" hx-swap="none">Retry</button>{{end}}</td>` +
		`</tr>`))

type linkRowRun struct {
	Stage  string
	Status string
}

type linkRowView struct {
	ID     string
	URL    string
	Title  string
	Status models.LinkStatus
	Failed bool
	Runs   []linkRowRun
}

// renderLinkRow renders the fragment for one link and its run history.
func renderLinkRow(link *models.Link, runs []*models.AgentRun) (string, error) {
	view := linkRowView{
		ID:     link.ID,
		URL:    link.URL,
		Title:  link.Title,
		Status: link.Status,
		Failed: link.Status == models.LinkStatusFailed,
	}
	if view.Title == "" {
		view.Title = link.URL
	}
	for _, run := range runs {
		view.Runs = append(view.Runs, linkRowRun{
			Stage:  string(run.Stage),
			Status: string(run.Status),
		})
	}

	var buf bytes.Buffer
	if err := linkRowTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("pipeline: render link row %s: %w", link.ID, err)
	}
	return buf.String(), nil
}
