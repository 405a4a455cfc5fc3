package report

import (
	"html/template"
	"io"
	"time"

	"dq/internal/dataset"
)

// reportHTML is the full document template. Step rows carry their status as
// a CSS class so monitoring pages can colour success/error/skipped rows.
const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Data Cleaning and Transformation Summary</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
h1 { border-bottom: 3px solid #444; padding-bottom: 0.3em; }
section.dataset { margin: 2em 0; padding: 1em; border: 1px solid #ccc; border-radius: 4px; }
table { border-collapse: collapse; margin: 0.5em 0; }
th, td { border: 1px solid #ddd; padding: 0.3em 0.8em; text-align: left; }
th { background: #f0f0f0; }
tr.success td { background: #f2fbf2; }
tr.error td { background: #fbf2f2; }
tr.skipped td { background: #f7f7f7; color: #777; }
p.generated { color: #666; }
</style>
</head>
<body>
<h1>Data Cleaning and Transformation Summary</h1>
<p class="generated">Generated: {{.Generated}}</p>
{{range .Datasets}}
<section class="dataset">
<h2>{{.Name}}</h2>
<table class="rows">
<tr><th>Original rows</th><td>{{.OriginalRows}}</td></tr>
<tr><th>Cleaned rows</th><td>{{.CleanedRows}}</td></tr>
<tr><th>Rows removed</th><td>{{.RowsRemoved}}</td></tr>
</table>
<h3>Executed steps</h3>
<table class="steps">
<tr><th>#</th><th>Step</th><th>Status</th><th>Message</th></tr>
{{range .Steps}}
<tr class="{{.Status}}"><td>{{.Index}}</td><td>{{.Step}}</td><td>{{.Icon}} {{.Status}}</td><td>{{.Message}}</td></tr>
{{end}}
</table>
{{if .Columns}}
<h3>Final columns ({{len .Columns}})</h3>
<table class="columns">
<tr><th>Column</th><th>Type</th></tr>
{{range .Columns}}
<tr><td>{{.Name}}</td><td>{{.Kind}}</td></tr>
{{end}}
</table>
{{end}}
</section>
{{end}}
</body>
</html>
`

var reportTmpl = template.Must(template.New("report").Parse(reportHTML))

type htmlData struct {
	Generated string
	Datasets  []htmlDataset
}

type htmlDataset struct {
	Name         string
	OriginalRows string
	CleanedRows  string
	RowsRemoved  string
	Steps        []htmlStep
	Columns      []htmlColumn
}

type htmlStep struct {
	Index   int
	Icon    string
	Step    string
	Status  string
	Message string
}

type htmlColumn struct {
	Name string
	Kind string
}

// WriteHTML renders the HTML summary report. Content mirrors WriteText.
func WriteHTML(w io.Writer, entries []Entry, tables map[string]*dataset.Table, now time.Time) error {
	data := htmlData{
		Generated: now.Format("2006-01-02 15:04:05"),
		Datasets:  make([]htmlDataset, 0, len(entries)),
	}

	for _, e := range entries {
		d := htmlDataset{
			Name:         e.Dataset,
			OriginalRows: grouped.Sprintf("%d", e.OriginalRows),
			CleanedRows:  grouped.Sprintf("%d", e.CleanedRows),
			RowsRemoved:  grouped.Sprintf("%d", e.OriginalRows-e.CleanedRows),
		}
		for i, st := range e.Steps {
			d.Steps = append(d.Steps, htmlStep{
				Index:   i + 1,
				Icon:    statusIcon(st.Status),
				Step:    st.Step,
				Status:  string(st.Status),
				Message: st.Message,
			})
		}
		if t, ok := tables[e.Dataset]; ok && t != nil {
			for _, c := range t.Columns {
				d.Columns = append(d.Columns, htmlColumn{Name: c.Name, Kind: c.Kind.String()})
			}
		}
		data.Datasets = append(data.Datasets, d)
	}

	return reportTmpl.Execute(w, data)
}
