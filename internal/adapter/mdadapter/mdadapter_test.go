package mdadapter

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jgivc/modsync/internal/entity"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
)

func TestStatusExtension(t *testing.T) {
	testCases := []struct {
		name   string
		source string
		expect string
	}{
		{
			name:   "Badge",
			source: "Unit {{ status: failed }} now",
			expect: `<p>Unit <span class="status status-failed">failed</span> now</p>`,
		},
		{
			name:   "No spaces",
			source: "{{status:legacy}}",
			expect: `<p><span class="status status-legacy">legacy</span></p>`,
		},
		{
			name:   "Other braces",
			source: "{{ file: a.txt }}",
			expect: `<p>{{ file: a.txt }}</p>`,
		},
	}

	md := goldmark.New(goldmark.WithExtensions(NewStatusExtension()))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, md.Convert([]byte(tc.source), &buf))
			require.Equal(t, tc.expect, strings.TrimSpace(buf.String()))
		})
	}
}

func testReport() *entity.RunReport {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	report := &entity.RunReport{
		ID:             "run-1",
		StartedAt:      started,
		FinishedAt:     started.Add(3 * time.Second),
		DependenciesOK: false,
		ProtocolTable:  entity.ProtocolTable{350000: {Region: "EU", MajorPatch: 92, MinorPatch: 4}},
		Self:           &entity.UnitOutcome{Name: "toolbox", Status: entity.UnitStatusSucceeded},
		DependencyFailures: []entity.FetchOutcome{
			{ID: "X.3.def", Err: errors.New("mirrors exhausted")},
		},
	}
	report.Add(entity.UnitOutcome{Name: "alpha", Status: entity.UnitStatusSucceeded, Attempts: 1, Fetched: 3})
	report.Add(entity.UnitOutcome{Name: "old.js", Status: entity.UnitStatusLegacy})
	report.Add(entity.UnitOutcome{Name: "<script>", Status: entity.UnitStatusFailed, Attempts: 1, Err: errors.New("a | b\nc")})

	return report
}

func TestMarkdown(t *testing.T) {
	r, err := NewReportRenderer()
	require.NoError(t, err)

	md, err := r.Markdown(testReport())
	require.NoError(t, err)

	for _, line := range []string{
		"| Run | run-1 |",
		"| Started | 2024-05-01 10:00:00 |",
		"| Dependencies | {{ status: failed }} |",
		"| Self update | {{ status: succeeded }} |",
		"| alpha | {{ status: succeeded }} | 1 | 3 |  |",
		"| old.js | {{ status: legacy }} | 0 | 0 |  |",
		`| \<script> | {{ status: failed }} | 1 | 0 | a \| b c |`,
		"| X.3.def | mirrors exhausted |",
		"| 350000 | EU | 92.4 |",
	} {
		require.Contains(t, md, line)
	}
}

func TestMarkdownEmpty(t *testing.T) {
	r, err := NewReportRenderer()
	require.NoError(t, err)

	md, err := r.Markdown(&entity.RunReport{ID: "empty", DependenciesOK: true})
	require.NoError(t, err)
	require.Contains(t, md, "No units.")
	require.Contains(t, md, "| Dependencies | {{ status: succeeded }} |")
	require.NotContains(t, md, "Dependency failures")
	require.NotContains(t, md, "Protocol versions")
	require.NotContains(t, md, "Self update")
}

func TestHTML(t *testing.T) {
	r, err := NewReportRenderer()
	require.NoError(t, err)

	page, err := r.HTML(testReport())
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	require.Contains(t, page, "<title>Update report</title>")
	require.Contains(t, page, "<table>")
	require.Contains(t, page, `<span class="status status-failed">failed</span>`)
	require.Contains(t, page, `<span class="status status-legacy">legacy</span>`)
	require.Contains(t, page, "&lt;script&gt;")
	require.NotContains(t, page, "<script>")
	require.NotContains(t, page, "{{ status:")
}
