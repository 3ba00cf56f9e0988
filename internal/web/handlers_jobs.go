package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stockroom/internal/core"
)

// sseKeepAlive is how often an idle stream gets a comment line so proxies
// do not close it.
const sseKeepAlive = 15 * time.Second

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.service.Jobs().List()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Jobs().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job that has not started yet.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Jobs().Cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobEvents streams job snapshots as Server-Sent Events: "progress"
// while the job runs and one "complete" when it finishes. The event id is the
// progress percentage, so a reconnecting client that sends lastEventId (or
// Last-Event-ID) skips what it has already seen.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	lastEventID := -1
	if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	updates, unsubscribe, err := s.service.Jobs().Subscribe(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer unsubscribe()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	var last core.Job
	for {
		select {
		case job, ok := <-updates:
			if !ok {
				// Closed after the final snapshot, which was already sent.
				if !last.Status.Finished() {
					writeEvent(w, "complete", last.Progress, last)
					rc.Flush()
				}
				return
			}
			last = job

			if job.Status.Finished() {
				writeEvent(w, "complete", job.Progress, job)
				rc.Flush()
				return
			}
			if job.Progress <= lastEventID {
				continue
			}
			writeEvent(w, "progress", job.Progress, job)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, id int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
}

// handleJobReport renders a finished or running job as an HTML page.
func (s *Server) handleJobReport(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Jobs().Get(chi.URLParam(r, "id"))
	if err != nil {
		status := statusFor(err)
		msg := core.MapError(err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if rerr := errorPage(msg).Render(r.Context(), w); rerr != nil {
			s.logRequestError(r, "render error page", rerr)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !job.Status.Finished() {
		w.Header().Set("Refresh", "2")
	}
	if err := jobReport(job).Render(r.Context(), w); err != nil {
		s.logRequestError(r, "render job report", err)
	}
}

// importResult extracts the import result a finished import job carries.
func importResult(job core.Job) (core.ImportResult[core.UpsertResult], bool) {
	switch v := job.Result.(type) {
	case core.ImportResult[core.UpsertResult]:
		return v, true
	case *core.ImportResult[core.UpsertResult]:
		if v != nil {
			return *v, true
		}
	}
	return core.ImportResult[core.UpsertResult]{}, false
}
