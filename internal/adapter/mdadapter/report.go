package mdadapter

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	_ "embed"

	"github.com/jgivc/modsync/internal/entity"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	timeFormat = "2006-01-02 15:04:05"
	pageTitle  = "Update report"
)

var (
	cellReplacer = strings.NewReplacer("\n", " ", "|", `\|`, "<", `\<`)

	//go:embed templates/report.md
	reportTemplateContent string

	//go:embed templates/page.html
	pageTemplateContent string
)

type pageContext struct {
	Title   string
	Content htmltemplate.HTML
}

// ReportRenderer turns a run report into Markdown and a standalone HTML page.
type ReportRenderer struct {
	report *template.Template
	page   *htmltemplate.Template
	md     goldmark.Markdown
}

func NewReportRenderer() (*ReportRenderer, error) {
	report, err := template.New("report").Funcs(template.FuncMap{
		"badge": badge,
		"cell":  cell,
		"ts":    ts,
	}).Parse(reportTemplateContent)
	if err != nil {
		return nil, fmt.Errorf("cannot parse report template: %w", err)
	}

	page, err := htmltemplate.New("page").Parse(pageTemplateContent)
	if err != nil {
		return nil, fmt.Errorf("cannot parse page template: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			NewStatusExtension(),
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)

	return &ReportRenderer{
		report: report,
		page:   page,
		md:     md,
	}, nil
}

func (r *ReportRenderer) Markdown(report *entity.RunReport) (string, error) {
	var buf bytes.Buffer
	if err := r.report.Execute(&buf, report); err != nil {
		return "", fmt.Errorf("cannot build report: %w", err)
	}

	return buf.String(), nil
}

func (r *ReportRenderer) HTML(report *entity.RunReport) (string, error) {
	src, err := r.Markdown(report)
	if err != nil {
		return "", err
	}

	var content bytes.Buffer
	if err := r.md.Convert([]byte(src), &content); err != nil {
		return "", fmt.Errorf("cannot convert markdown: %w", err)
	}

	var buf bytes.Buffer
	if err := r.page.Execute(&buf, &pageContext{Title: pageTitle, Content: htmltemplate.HTML(content.String())}); err != nil {
		return "", fmt.Errorf("cannot build page: %w", err)
	}

	return buf.String(), nil
}

func badge(status any) string {
	return fmt.Sprintf("{{ status: %v }}", status)
}

// cell keeps a value inside one table cell.
func cell(s string) string {
	return cellReplacer.Replace(s)
}

func ts(t time.Time) string {
	return t.Format(timeFormat)
}
