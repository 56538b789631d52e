package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/tendant/simple-catalog/pkg/catalog"
)

// Envelope is the body of every response
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// StatusFor maps a service error to an HTTP status code
func StatusFor(err error) int {
	var (
		verr  *catalog.ValidationError
		nerr  *catalog.NotFoundError
		rerr  *catalog.ReferentialIntegrityError
		cerr  *catalog.ConflictError
		merr  *catalog.MediaStoreError
		perr  *catalog.PersistenceError
		maxed *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &nerr):
		return http.StatusNotFound
	case errors.As(err, &rerr), errors.As(err, &cerr):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrAssetRejected), errors.As(err, &maxed):
		return http.StatusBadRequest
	case errors.As(err, &merr):
		return http.StatusBadGateway
	case errors.As(err, &perr):
		return http.StatusInternalServerError
	case errors.Is(err, catalog.ErrUnknownResourceType):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeOK(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	render.Status(r, status)
	render.JSON(w, r, Envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, Envelope{Success: false, Message: message})
}

// messageFor renders a service error the way clients of the catalog expect
func (h *Handler) messageFor(err error) string {
	var (
		verr *catalog.ValidationError
		nerr *catalog.NotFoundError
		rerr *catalog.ReferentialIntegrityError
		cerr *catalog.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		return validationMessage(verr)
	case errors.As(err, &nerr):
		return h.labels.singular + " not found."
	case errors.As(err, &rerr):
		return fmt.Sprintf("Cannot delete %s. %s are referencing it.",
			strings.ToLower(h.labels.singular), collectionLabel(rerr.Collection))
	case errors.As(err, &cerr):
		return h.labels.singular + " was modified by another request. Reload and try again."
	default:
		return err.Error()
	}
}

func validationMessage(err *catalog.ValidationError) string {
	missing := 0
	for _, f := range err.Fields {
		if f.Reason == "is required" {
			missing++
		}
	}
	switch {
	case missing == 1 && len(err.Fields) == 1:
		return fieldLabel(err.Fields[0].Field) + " is required."
	case missing == len(err.Fields):
		return "Required fields are missing."
	default:
		parts := make([]string, len(err.Fields))
		for i, f := range err.Fields {
			parts[i] = f.Field + " " + f.Reason
		}
		return "Invalid fields: " + strings.Join(parts, ", ") + "."
	}
}

func fieldLabel(field string) string {
	switch field {
	case "name", "posterName":
		return "Name"
	case "categoryId":
		return "Category"
	case "":
		return "Field"
	default:
		return strings.ToUpper(field[:1]) + field[1:]
	}
}

func collectionLabel(collection string) string {
	switch collection {
	case catalog.CollectionSubCategories:
		return "Subcategories"
	case catalog.CollectionProducts:
		return "Products"
	case catalog.CollectionCategories:
		return "Categories"
	case catalog.CollectionPosters:
		return "Posters"
	default:
		return collection
	}
}
