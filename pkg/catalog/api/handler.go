// Package api exposes the catalog Service over HTTP. Each resource type gets
// the same five routes under its collection path, and every response uses
// the {success, message, data} envelope.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-catalog/pkg/catalog"
)

// fieldOverhead is the body allowance for non-file form values
const fieldOverhead = 1 << 20

type labels struct {
	singular string
	plural   string
}

var kindLabels = map[catalog.ResourceType]labels{
	catalog.ResourceTypeCategory:    {"Category", "Categories"},
	catalog.ResourceTypeSubCategory: {"Subcategory", "Subcategories"},
	catalog.ResourceTypePoster:      {"Poster", "Posters"},
	catalog.ResourceTypeProduct:     {"Product", "Products"},
}

// Handler serves one resource type
type Handler struct {
	service   catalog.Service
	kind      catalog.Kind
	labels    labels
	streaming bool
	maxMemory int64
	logger    *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithStreamingUploads stages file parts in the media store while the
// multipart body is read instead of buffering the whole form first
func WithStreamingUploads() Option {
	return func(h *Handler) {
		h.streaming = true
	}
}

// WithMaxMemory sets how much of a buffered multipart form is kept in
// memory before files spill to disk
func WithMaxMemory(n int64) Option {
	return func(h *Handler) {
		h.maxMemory = n
	}
}

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a handler for resources of type t
func NewHandler(service catalog.Service, t catalog.ResourceType, options ...Option) (*Handler, error) {
	kind, err := catalog.KindOf(t)
	if err != nil {
		return nil, err
	}
	l, ok := kindLabels[t]
	if !ok {
		l = labels{singular: t.String(), plural: kind.Collection()}
	}

	h := &Handler{
		service:   service,
		kind:      kind,
		labels:    l,
		maxMemory: 32 << 20,
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(h)
	}
	return h, nil
}

// Mount registers a handler for every resource type under its collection
// path, e.g. /categories and /products
func Mount(r chi.Router, service catalog.Service, options ...Option) error {
	for _, t := range catalog.ResourceTypes {
		h, err := NewHandler(service, t, options...)
		if err != nil {
			return err
		}
		r.Mount("/"+h.kind.Collection(), h.Routes())
	}
	return nil
}

// Routes returns the router for this resource type
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

// List returns every resource, optionally filtered by one attribute given
// as a query parameter (?categoryId=... or ?name=...)
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	req := catalog.ListRequest{Type: h.kind.Type()}

	query := r.URL.Query()
	if len(query) > 1 {
		writeError(w, r, http.StatusBadRequest, "Only one filter is supported.")
		return
	}
	filters := make(map[string]string, len(query))
	for k := range query {
		filters[k] = query.Get(k)
	}
	for k, v := range normalizeFields(h.kind, filters) {
		req.Field, req.Value = k, v
	}

	resources, err := h.service.List(r.Context(), req, catalog.ExpandReferences())
	if err != nil {
		h.fail(w, r, "list", err)
		return
	}
	if resources == nil {
		resources = []*catalog.Resource{}
	}
	writeOK(w, r, http.StatusOK, h.labels.plural+" retrieved successfully.", resources)
}

// Get returns one resource
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	res, err := h.service.Get(r.Context(), h.kind.Type(), id, catalog.ExpandReferences())
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	writeOK(w, r, http.StatusOK, h.labels.singular+" retrieved successfully.", res)
}

// Create accepts a multipart form (fields plus one file per slot) or a
// JSON object of fields
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	body, ok := h.parseBody(w, r, false)
	if !ok {
		return
	}
	defer body.Close()

	res, err := h.service.Create(r.Context(), catalog.CreateRequest{
		Type:   h.kind.Type(),
		Fields: body.fields,
		Media:  body.media,
		Staged: body.staged,
	})
	if err != nil {
		h.fail(w, r, "create", err)
		return
	}

	h.logger.Info("Resource created", "type", h.kind.Type(), "id", res.ID)
	writeOK(w, r, http.StatusCreated, h.labels.singular+" created successfully.", res)
}

// FailedSlot reports a slot left unchanged by an update
type FailedSlot struct {
	Slot  string `json:"slot"`
	Error string `json:"error"`
}

// UpdateResponse is the data of an update response
type UpdateResponse struct {
	*catalog.Resource
	FailedSlots []FailedSlot `json:"failedSlots,omitempty"`
}

// Update applies the supplied fields and replaces the supplied slots
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	body, ok := h.parseBody(w, r, true)
	if !ok {
		return
	}
	defer body.Close()

	result, err := h.service.Update(r.Context(), catalog.UpdateRequest{
		Type:   h.kind.Type(),
		ID:     id,
		Fields: body.fields,
		Media:  body.media,
		Staged: body.staged,
		Failed: body.failed,
	})
	if err != nil {
		h.fail(w, r, "update", err)
		return
	}

	resp := UpdateResponse{Resource: result.Resource}
	message := h.labels.singular + " updated successfully."
	if result.Partial() {
		for _, f := range result.FailedSlots {
			resp.FailedSlots = append(resp.FailedSlots, FailedSlot{Slot: f.Slot, Error: f.Err.Error()})
		}
		sort.Slice(resp.FailedSlots, func(i, j int) bool { return resp.FailedSlots[i].Slot < resp.FailedSlots[j].Slot })
		message = fmt.Sprintf("%s updated, but %d image(s) could not be stored.", h.labels.singular, len(resp.FailedSlots))
		h.logger.Warn("Partial update", "type", h.kind.Type(), "id", id, "failed_slots", resp.FailedSlots)
	}
	writeOK(w, r, http.StatusOK, message, resp)
}

// Delete removes a resource that nothing references
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), h.kind.Type(), id); err != nil {
		h.fail(w, r, "delete", err)
		return
	}
	writeOK(w, r, http.StatusOK, h.labels.singular+" deleted successfully.", nil)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Warn("Invalid id", "type", h.kind.Type(), "id", raw, "error", err)
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid %s id.", h.kind.Type()))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) parseBody(w http.ResponseWriter, r *http.Request, update bool) (*parsedRequest, bool) {
	limit := int64(len(h.kind.SlotNames()))*catalog.MaxAssetSize + fieldOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var (
		body *parsedRequest
		err  error
	)
	switch {
	case !isMultipart(r):
		body, err = parseJSON(r)
	case h.streaming:
		body, err = h.parseStreamingMultipart(r, update)
	default:
		body, err = parseBufferedMultipart(r, h.maxMemory)
	}
	if err != nil {
		status := StatusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		h.logger.Warn("Failed to parse request", "type", h.kind.Type(), "error", err)
		writeError(w, r, status, h.messageFor(err))
		return nil, false
	}

	body.fields = normalizeFields(h.kind, body.fields)
	return body, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "type", h.kind.Type(), "error", err)
	} else {
		h.logger.Warn("Request rejected", "op", op, "type", h.kind.Type(), "status", status, "error", err)
	}
	writeError(w, r, status, h.messageFor(err))
}
