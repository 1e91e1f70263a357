package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/usecase"
)

const (
	maxJSONBodySize  = 1 << 20
	multipartMemory  = 1 << 20
	uploadFormField  = "file"
	defaultThreshold = usecase.DefaultRecommendation
)

type Option func(*Handler)

// WithAPIKey protects every /v1 route with a static key sent as X-API-Key or
// a bearer token. An empty key leaves the routes open.
func WithAPIKey(key string) Option {
	return func(h *Handler) {
		h.apiKey = strings.TrimSpace(key)
	}
}

// WithMetrics exposes gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = gatherer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

type Handler struct {
	csvService *usecase.CSVService
	apiKey     string
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

func NewHandler(csvService *usecase.CSVService, opts ...Option) *Handler {
	h := &Handler{csvService: csvService, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(pr chi.Router) {
		if h.apiKey != "" {
			pr.Use(h.requireAPIKey)
		}
		pr.Get("/v1/schemas", h.listSchemas)
		pr.Get("/v1/schemas/{name}", h.getSchema)
		pr.Put("/v1/schemas/{name}", h.putSchema)

		pr.Post("/v1/sources", h.uploadSource)
		pr.Get("/v1/sources/{source}/inspection", h.inspectSource)
		pr.Get("/v1/sources/{source}/recommendation", h.recommendSchema)

		pr.Post("/v1/validations", h.validate)
	})

	return r
}

type schemaResponse struct {
	Name       string            `json:"name"`
	Definition domain.Definition `json:"definition"`
}

type inspectionResponse struct {
	Source      string            `json:"source"`
	Schema      string            `json:"schema"`
	Fields      []string          `json:"fields"`
	Columns     []string          `json:"columns"`
	Sample      []domain.Record   `json:"sample"`
	Suggestions map[string]string `json:"suggestions"`
	Score       float64           `json:"score"`
}

type validationRequest struct {
	Source      string            `json:"source"`
	Schema      string            `json:"schema"`
	Mappings    map[string]string `json:"mappings"`
	ErrorBudget *int              `json:"error_threshold"`
}

type validationResponse struct {
	RequestID string                   `json:"request_id"`
	Source    string                   `json:"source"`
	Schema    string                   `json:"schema"`
	Valid     bool                     `json:"valid"`
	Errors    []domain.ValidationError `json:"errors"`
}

func (h *Handler) listSchemas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.csvService.AvailableSchemas()})
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	schema, ok := h.csvService.Schema(name)
	if !ok {
		writeError(w, http.StatusNotFound, "schema not found")
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) putSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	var def domain.Definition
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	schema, err := domain.NewSchema(name, def)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	if err := h.csvService.RegisterSchema(r.Context(), schema); err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) uploadSource(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	source, err := h.csvService.UploadFile(r.Context(), header.Filename, file)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"source": source})
}

func (h *Handler) inspectSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	result, err := h.csvService.Inspect(r.Context(), source, r.URL.Query().Get("schema"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inspectionResponse{
		Source:      source,
		Schema:      result.Schema.Name,
		Fields:      result.Schema.FieldNames(),
		Columns:     result.Columns,
		Sample:      result.Sample,
		Suggestions: result.Suggestions,
		Score:       result.Score(),
	})
}

func (h *Handler) recommendSchema(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	threshold := defaultThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			writeError(w, http.StatusBadRequest, "threshold must be a number between 0 and 1")
			return
		}
		threshold = parsed
	}

	schema, ok, err := h.csvService.Recommend(r.Context(), source, threshold)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no schema recommended")
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	var req validationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	vr := domain.NewValidationRequest(req.Source, req.Schema, req.Mappings)
	if req.ErrorBudget != nil {
		vr.ErrorBudget = *req.ErrorBudget
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}

	resp, err := h.csvService.Validate(r.Context(), vr)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	errs := resp.Errors
	if errs == nil {
		errs = []domain.ValidationError{}
	}
	writeJSON(w, http.StatusOK, validationResponse{
		RequestID: resp.RequestID.String(),
		Source:    resp.Source,
		Schema:    resp.SchemaName,
		Valid:     resp.IsValid(),
		Errors:    errs,
	})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func toSchemaResponse(schema domain.Schema) schemaResponse {
	def := schema.Definition
	if def == nil {
		def = domain.Definition{}
	}
	return schemaResponse{Name: schema.Name, Definition: def}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("encode json response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	var ruleErr *domain.RuleSetError
	switch {
	case errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidUpload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnreadableSource), errors.As(err, &ruleErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "csvschema",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/schemas": map[string]any{
				"get": map[string]any{"summary": "List schema names"},
			},
			"/v1/schemas/{name}": map[string]any{
				"get": map[string]any{"summary": "Get schema definition"},
				"put": map[string]any{"summary": "Register or replace schema"},
			},
			"/v1/sources": map[string]any{
				"post": map[string]any{"summary": "Upload a csv source"},
			},
			"/v1/sources/{source}/inspection": map[string]any{
				"get": map[string]any{"summary": "Suggest a column mapping onto a schema"},
			},
			"/v1/sources/{source}/recommendation": map[string]any{
				"get": map[string]any{"summary": "Recommend the best matching schema"},
			},
			"/v1/validations": map[string]any{
				"post": map[string]any{"summary": "Validate a source against a schema"},
			},
		},
	}
}
