package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stockroom/internal/core"
	"github.com/JonMunkholm/stockroom/internal/logging"
)

// errBadRequest marks client mistakes that have no more specific sentinel.
var errBadRequest = errors.New("invalid request")

// multipartMemory is how much of an upload is held in memory before spilling
// to a temp file.
const multipartMemory = 32 << 20

// entityInfo describes an importable entity for clients building forms.
type entityInfo struct {
	Key         string      `json:"key"`
	Label       string      `json:"label"`
	Fields      []fieldInfo `json:"fields"`
	ImageFields []string    `json:"imageFields,omitempty"`
}

type fieldInfo struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Example     string `json:"example,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	defs := s.service.Entities()
	out := make([]entityInfo, 0, len(defs))
	for _, def := range defs {
		info := entityInfo{
			Key:         def.Key,
			Label:       def.Label,
			Fields:      make([]fieldInfo, 0, len(def.Fields)),
			ImageFields: def.ImageFields,
		}
		for _, f := range def.Fields {
			info.Fields = append(info.Fields, fieldInfo{
				Key:         f.Key,
				Label:       f.Label,
				Type:        f.Type.String(),
				Required:    f.Required,
				Example:     f.Example,
				Description: f.Description,
			})
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTemplate downloads an empty import file for the entity.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	def, err := s.service.Entity(chi.URLParam(r, "entity"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	format := core.FormatCSV
	if f := r.URL.Query().Get("format"); f != "" {
		if format, err = core.ParseFormat(f); err != nil {
			s.respondError(w, r, err, 0)
			return
		}
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", core.TemplateFilename(def, format)))
	if err := core.WriteTemplate(w, format, def); err != nil {
		// Headers are gone; all we can do is log.
		s.logRequestError(r, "template write failed", err)
	}
}

// handleImport runs a synchronous import. The body is either JSON (an array
// of records or {"items": [...]}) or a multipart upload with a "file" field.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	def, records, opts, ok := s.readImport(w, r)
	if !ok {
		return
	}

	ctx := core.ContextWithClient(r.Context(), core.Client{IP: clientIP(r), UserAgent: r.UserAgent()})
	result, err := s.service.Import(ctx, def.Key, records, opts)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStartImportJob queues the import and answers 202 with the job.
func (s *Server) handleStartImportJob(w http.ResponseWriter, r *http.Request) {
	def, records, opts, ok := s.readImport(w, r)
	if !ok {
		return
	}

	job, err := s.service.StartImportJob(def.Key, records, opts)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// readImport decodes the request into records and options. On failure the
// error response is already written.
func (s *Server) readImport(w http.ResponseWriter, r *http.Request) (core.EntityDefinition, []core.Record, core.ImportOptions, bool) {
	def, err := s.service.Entity(chi.URLParam(r, "entity"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return def, nil, core.ImportOptions{}, false
	}

	opts, err := parseImportOptions(r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return def, nil, opts, false
	}

	if s.cfg.Import.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxBodySize)
	}

	records, source, err := decodeBody(r, def)
	if err != nil {
		s.respondError(w, r, err, 0)
		return def, nil, opts, false
	}
	opts.Source = source
	return def, records, opts, true
}

func decodeBody(r *http.Request, def core.EntityDefinition) ([]core.Record, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				return nil, "", err
			}
			return nil, "", fmt.Errorf("%w: invalid multipart form: %w", errBadRequest, err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("%w: no file provided", errBadRequest)
		}
		defer file.Close()

		var format core.Format
		if f := r.FormValue("format"); f != "" {
			format, err = core.ParseFormat(f)
		} else {
			format, err = core.FormatFromFilename(header.Filename)
		}
		if err != nil {
			return nil, "", err
		}
		records, err := decode(format, file, def)
		return records, "upload:" + header.Filename, err

	case "text/csv":
		records, err := decode(core.FormatCSV, r.Body, def)
		return records, "api:csv", err

	case "", "application/json":
		records, err := decode(core.FormatJSON, r.Body, def)
		return records, "api", err

	default:
		return nil, "", fmt.Errorf("%w: content type %q", core.ErrUnsupportedFormat, mediaType)
	}
}

func decode(format core.Format, body io.Reader, def core.EntityDefinition) ([]core.Record, error) {
	records, err := core.DecodeRecords(format, body, def)
	if err == nil || errors.Is(err, core.ErrNoRecords) {
		return records, err
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return nil, maxBytes
	}
	return nil, fmt.Errorf("%w: %w", errBadRequest, err)
}

// parseImportOptions reads dry_run, concurrency, max_retries and
// continue_on_error from the query string.
func parseImportOptions(r *http.Request) (core.ImportOptions, error) {
	q := r.URL.Query()
	var opts core.ImportOptions

	if v := q.Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: dry_run must be true or false", errBadRequest)
		}
		opts.DryRun = b
	}
	if v := q.Get("concurrency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 50 {
			return opts, fmt.Errorf("%w: concurrency must be between 1 and 50", errBadRequest)
		}
		opts.Concurrency = n
	}
	if v := q.Get("max_retries"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 10 {
			return opts, fmt.Errorf("%w: max_retries must be between 0 and 10", errBadRequest)
		}
		opts.MaxRetries = &n
	}
	if v := q.Get("continue_on_error"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: continue_on_error must be true or false", errBadRequest)
		}
		opts.ContinueOnError = &b
	}
	return opts, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, r, fmt.Errorf("%w: limit must be a positive number", errBadRequest), 0)
			return
		}
		limit = min(n, 200)
	}

	runs, err := s.service.History(r.Context(), chi.URLParam(r, "entity"), limit)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// imageURLRequest is the body of /api/validate/image-url.
type imageURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleValidateImageURL(w http.ResponseWriter, r *http.Request) {
	var req imageURLRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, core.ValidateImageURL(req.URL))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		core.ServiceStatus
		Breakers []core.BreakerStatus `json:"breakers"`
		Tracking *core.LimiterStatus  `json:"tracking,omitempty"`
	}{
		ServiceStatus: s.service.Status(),
		Breakers:      []core.BreakerStatus{},
	}
	if s.breakers != nil {
		status.Breakers = s.breakers.Status()
	}
	if s.tracking != nil {
		ls := s.tracking.Limiter().Status()
		status.Tracking = &ls
	}
	writeJSON(w, http.StatusOK, status)
}

// handleResetBreakers closes every circuit, for use after an outage is fixed.
func (s *Server) handleResetBreakers(w http.ResponseWriter, r *http.Request) {
	breakers := []core.BreakerStatus{}
	if s.breakers != nil {
		s.breakers.ResetAll()
		breakers = s.breakers.Status()
	}
	logging.FromContext(r.Context()).Info("circuit breakers reset", "count", len(breakers))
	writeJSON(w, http.StatusOK, map[string]any{"breakers": breakers})
}

func (s *Server) logRequestError(r *http.Request, msg string, err error) {
	logging.FromContext(r.Context()).Warn(msg, "path", r.URL.Path, "error", err)
}

// maxJSONBody bounds small JSON request bodies.
const maxJSONBody = 1 << 20

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: body must be JSON: %s", errBadRequest, strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

// clientIP strips the port from RemoteAddr, which TrustedRealIP has already
// rewritten for requests from trusted proxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
