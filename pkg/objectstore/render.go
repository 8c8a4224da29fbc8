package objectstore

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/ljtill/curate/pkg/models"
)

// EditionRenderer turns an Edition (and the index of published editions)
// into the static HTML artifacts the publish stage uploads. Built on
// html/template for auto-escaped output.
type EditionRenderer struct {
	edition *template.Template
	index   *template.Template
}

const editionTemplateSource = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<article>
<h1>{{.Title}}</h1>
{{range .Sections}}<section><h2>{{.Heading}}</h2><div>{{.Body}}</div></section>
{{end}}
</article>
</body>
</html>
`

const indexTemplateSource = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Editions</title></head>
<body>
<h1>Editions</h1>
<ul>
{{range .}}<li><a href="editions/{{.ID}}.html">{{.Title}}</a> &mdash; {{.PublishedAt}}</li>
{{end}}
</ul>
</body>
</html>
`

// NewEditionRenderer parses the built-in templates.
func NewEditionRenderer() (*EditionRenderer, error) {
	ed, err := template.New("edition").Parse(editionTemplateSource)
	if err != nil {
		return nil, fmt.Errorf("objectstore: parse edition template: %w", err)
	}
	idx, err := template.New("index").Parse(indexTemplateSource)
	if err != nil {
		return nil, fmt.Errorf("objectstore: parse index template: %w", err)
	}
	return &EditionRenderer{edition: ed, index: idx}, nil
}

type editionSection struct {
	Heading string
	Body    string
}

type editionView struct {
	Title    string
	Sections []editionSection
}

// RenderEdition renders a single edition's content map into an HTML
// document. Sections come from a "sections" list of {heading, body} maps;
// without that list, a string "body" key is rendered as a single section,
// and with neither the document has no sections.
func (r *EditionRenderer) RenderEdition(edition *models.Edition) ([]byte, error) {
	view := editionView{Title: editionTitle(edition)}
	if raw, ok := edition.Content["sections"].([]any); ok {
		for _, s := range raw {
			section, ok := s.(map[string]any)
			if !ok {
				continue
			}
			view.Sections = append(view.Sections, editionSection{
				Heading: stringField(section, "heading"),
				Body:    stringField(section, "body"),
			})
		}
	} else if body, ok := edition.Content["body"].(string); ok {
		view.Sections = append(view.Sections, editionSection{Heading: "", Body: body})
	}

	var buf bytes.Buffer
	if err := r.edition.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("objectstore: render edition %s: %w", edition.ID, err)
	}
	return buf.Bytes(), nil
}

// RenderIndex renders the index of published editions in the order the
// caller supplies them; it does not sort them.
func (r *EditionRenderer) RenderIndex(editions []*models.Edition) ([]byte, error) {
	type row struct {
		ID          string
		Title       string
		PublishedAt string
	}
	rows := make([]row, 0, len(editions))
	for _, e := range editions {
		published := ""
		if e.PublishedAt != nil {
			published = e.PublishedAt.Format("2006-01-02")
		}
		rows = append(rows, row{ID: e.ID, Title: editionTitle(e), PublishedAt: published})
	}

	var buf bytes.Buffer
	if err := r.index.Execute(&buf, rows); err != nil {
		return nil, fmt.Errorf("objectstore: render index: %w", err)
	}
	return buf.Bytes(), nil
}

func editionTitle(edition *models.Edition) string {
	if t, ok := edition.Content["title"].(string); ok && t != "" {
		return t
	}
	return edition.ID
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
