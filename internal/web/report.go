package web

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/stockroom/internal/core"
)

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem auto;max-width:56rem;color:#1f2937}
h1{font-size:1.4rem}table{border-collapse:collapse;margin:1rem 0}
td,th{border:1px solid #e5e7eb;padding:.35rem .7rem;text-align:left}
.completed{color:#047857}.failed{color:#b91c1c}.processing,.pending{color:#92400e}
.errors li{font-family:ui-monospace,monospace;font-size:.85rem}
progress{width:20rem}`

// page wraps body in the shared HTML shell.
func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, "<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\"><title>%s</title><style>%s</style></head><body>",
			templ.EscapeString(title), pageStyle); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</body></html>")
		return err
	})
}

// jobReport renders a job and, for import jobs, its result.
func jobReport(job core.Job) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ew := &errWriter{w: w}
		ew.printf("<h1>Import job <code>%s</code></h1>", templ.EscapeString(job.ID))
		ew.printf("<p>Type: %s. Status: <strong class=\"%s\">%s</strong></p>",
			templ.EscapeString(job.Type), templ.EscapeString(string(job.Status)), templ.EscapeString(string(job.Status)))

		if !job.Status.Finished() {
			ew.printf("<p><progress max=\"100\" value=\"%d\"></progress> %d%%</p>", job.Progress, job.Progress)
		}

		ew.printf("<table><tr><th>Queued</th><td>%s</td></tr>", formatTime(&job.CreatedAt))
		ew.printf("<tr><th>Started</th><td>%s</td></tr>", formatTime(job.StartedAt))
		ew.printf("<tr><th>Finished</th><td>%s</td></tr></table>", formatTime(job.CompletedAt))

		if job.Error != "" {
			msg := core.MapError(fmt.Errorf("%s", job.Error))
			ew.printf("<p class=\"failed\">%s. %s (%s)</p>",
				templ.EscapeString(msg.Message), templ.EscapeString(msg.Action), templ.EscapeString(msg.Code))
		}

		if result, ok := importResult(job); ok {
			writeResult(ew, result)
		}
		return ew.err
	})
	return page("Import job "+job.ID, body)
}

func writeResult(ew *errWriter, result core.ImportResult[core.UpsertResult]) {
	st := result.Stats
	ew.printf("<h2>Result</h2><table><tr><th>Total</th><th>Created</th><th>Updated</th><th>Failed</th><th>Duration</th></tr>")
	ew.printf("<tr><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%s</td></tr></table>",
		st.Total, st.Created, st.Updated, st.Failed, time.Duration(st.DurationMs)*time.Millisecond)

	if len(result.Errors) == 0 {
		return
	}
	ew.printf("<h2>Errors (%d)</h2><ul class=\"errors\">", len(result.Errors))
	for _, e := range result.Errors {
		ew.printf("<li>%s</li>", templ.EscapeString(e))
	}
	ew.printf("</ul>")
}

// errorPage renders a mapped error for browsers.
func errorPage(msg core.UserMessage) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<h1>%s</h1><p>%s</p><p><small>%s</small></p>",
			templ.EscapeString(msg.Message), templ.EscapeString(msg.Action), templ.EscapeString(msg.Code))
		return err
	})
	return page(msg.Message, body)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

// errWriter keeps the first write error so rendering code can print freely.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
