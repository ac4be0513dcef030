// Package report renders crawl results as a standalone HTML page.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ContentType is the MIME type of rendered reports.
const ContentType = "text/html; charset=utf-8"

// Document is everything a report shows.
type Document struct {
	CrawlID     string
	Source      string
	SortMode    string
	Requested   int
	Outcome     crawler.Outcome
	GeneratedAt time.Time
	Records     []crawler.Record
}

// Summary aggregates the parseable numeric fields of a document.
type Summary struct {
	Records       int
	WithMedia     int
	TotalScore    int64
	TotalComments int64
	Unscored      int
}

// Summarize computes a Summary. Records whose score does not parse count as
// unscored and add nothing to TotalScore.
func (d Document) Summarize() Summary {
	s := Summary{Records: len(d.Records)}
	for _, r := range d.Records {
		if r.Media != "" {
			s.WithMedia++
		}
		if v, ok := r.ScoreValue(); ok {
			s.TotalScore += v
		} else {
			s.Unscored++
		}
		if v, ok := r.CommentValue(); ok {
			s.TotalComments += v
		}
	}
	return s
}

// Filename is the blob key of a crawl's report.
func Filename(prefix, source, sortMode, crawlID string) string {
	return path.Join(prefix, fmt.Sprintf("%s_%s_%s.html", source, sortMode, crawlID))
}

// Renderer executes the report template.
type Renderer struct {
	tmpl *template.Template
}

// New parses the report template.
func New() (*Renderer, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"isVideo": isVideo,
		"inc":     func(i int) int { return i + 1 },
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render produces the HTML bytes for doc.
func (r *Renderer) Render(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	data := struct {
		Document
		Summary Summary
	}{Document: doc, Summary: doc.Summarize()}
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render report %s: %w", doc.CrawlID, err)
	}
	return buf.Bytes(), nil
}

func isVideo(ref string) bool {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	ext := strings.ToLower(path.Ext(ref))
	return ext == ".mp4" || ext == ".webm" || strings.Contains(ref, "v.redd.it")
}

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>r/{{.Source}} / {{.SortMode}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; background: #fafafa; }
.post { background: #fff; border: 1px solid #ddd; border-radius: 6px; padding: 1rem; margin-bottom: 1rem; }
.meta { color: #666; font-size: 0.9rem; }
.media img, .media video { max-width: 480px; max-height: 480px; }
</style>
</head>
<body>
<h1>r/{{.Source}} / {{.SortMode}}</h1>
<p class="meta">Crawl {{.CrawlID}} at {{.GeneratedAt.Format "2006-01-02T15:04:05Z07:00"}}: {{.Summary.Records}} of {{.Requested}} posts ({{.Outcome}}), {{.Summary.WithMedia}} with media, total score {{.Summary.TotalScore}}, {{.Summary.TotalComments}} comments.</p>
{{- if not .Records}}
<p>No posts were crawled.</p>
{{- end}}
{{- range $i, $r := .Records}}
<div class="post" id="{{$r.ID}}">
<h2>{{inc $i}}. <a href="{{$r.Permalink}}">{{$r.Title}}</a></h2>
<p class="meta">u/{{$r.Author}} · score {{if $r.Score}}{{$r.Score}}{{else}}n/a{{end}} · {{if $r.CommentCount}}{{$r.CommentCount}}{{else}}0{{end}} comments · <a href="{{$r.ContentURL}}">link</a></p>
{{- if $r.Media}}
<div class="media">{{if isVideo $r.Media}}<video controls src="{{$r.Media}}"></video>{{else}}<img src="{{$r.Media}}" alt="{{$r.Title}}">{{end}}</div>
{{- end}}
</div>
{{- end}}
</body>
</html>
`
