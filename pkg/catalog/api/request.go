package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tendant/simple-catalog/pkg/catalog"
)

// maxFieldSize bounds a single non-file form value
const maxFieldSize = 1 << 20

// fieldAliases maps legacy request field names onto attribute keys
var fieldAliases = map[string]string{
	"proCategoryId":    "categoryId",
	"proSubCategoryId": "subCategoryId",
	"proBrandId":       "brandId",
	"proVariantTypeId": "variantTypeId",
	"proVariantId":     "variantId",
}

// parsedRequest is a decoded create or update body
type parsedRequest struct {
	fields map[string]string
	media  []catalog.MediaUpload
	staged map[string]catalog.MediaAsset
	// failed holds slots whose streamed upload the media store refused
	failed map[string]error
	// closers release buffered multipart files
	closers []io.Closer
}

func (p *parsedRequest) Close() {
	for _, c := range p.closers {
		c.Close()
	}
}

// normalizeFields applies aliases: any kind accepts "name" for its name field
func normalizeFields(kind catalog.Kind, fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if alias, ok := fieldAliases[k]; ok {
			k = alias
		}
		out[k] = v
	}
	if nameField := kind.NameField(); nameField != "name" {
		if v, ok := out["name"]; ok {
			if _, set := out[nameField]; !set {
				out[nameField] = v
			}
			delete(out, "name")
		}
	}
	return out
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// parseJSON reads a flat JSON object of fields. Numbers and booleans are
// kept in their textual form; null counts as blank and leaves a field as is.
func parseJSON(r *http.Request) (*parsedRequest, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return &parsedRequest{fields: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	fields := make(map[string]string, len(body))
	for k, v := range body {
		switch val := v.(type) {
		case nil:
			fields[k] = ""
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("field %q must be a string or number", k)
		}
	}
	return &parsedRequest{fields: fields}, nil
}

// parseBufferedMultipart lets net/http buffer the whole form (spilling
// large files to disk) before anything reaches the media store
func parseBufferedMultipart(r *http.Request, maxMemory int64) (*parsedRequest, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	form := r.MultipartForm

	req := &parsedRequest{fields: make(map[string]string, len(form.Value))}
	for k, values := range form.Value {
		if len(values) > 0 {
			req.fields[k] = values[0]
		}
	}
	for slot, headers := range form.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				req.Close()
				return nil, fmt.Errorf("failed to open upload %s: %w", slot, err)
			}
			req.closers = append(req.closers, f)
			req.media = append(req.media, catalog.MediaUpload{
				Slot:     slot,
				FileName: fh.Filename,
				Body:     f,
				Size:     fh.Size,
			})
		}
	}
	req.closers = append(req.closers, closerFunc(func() error { return form.RemoveAll() }))
	return req, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// parseStreamingMultipart stages each file part in the media store as soon
// as it is read. On any error the assets staged so far are discarded, except
// that an update records a slot the media store refused and reads on.
func (h *Handler) parseStreamingMultipart(r *http.Request, update bool) (*parsedRequest, error) {
	ctx := r.Context()
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	req := &parsedRequest{
		fields: map[string]string{},
		staged: map[string]catalog.MediaAsset{},
		failed: map[string]error{},
	}
	fail := func(err error) (*parsedRequest, error) {
		h.service.Discard(ctx, stagedAssets(req.staged)...)
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		if err != nil {
			return fail(fmt.Errorf("invalid multipart body: %w", err))
		}

		if part.FileName() == "" {
			value, err := readField(part)
			part.Close()
			if err != nil {
				return fail(err)
			}
			req.fields[part.FormName()] = value
			continue
		}

		slot := part.FormName()
		_, dup := req.staged[slot]
		if _, failed := req.failed[slot]; dup || failed {
			part.Close()
			return fail(&catalog.ValidationError{
				Type:   h.kind.Type(),
				Fields: []catalog.FieldError{{Field: slot, Reason: "was supplied more than once"}},
			})
		}
		asset, err := h.service.Stage(ctx, h.kind.Type(), catalog.MediaUpload{
			Slot:     slot,
			FileName: part.FileName(),
			Body:     part,
		})
		part.Close()
		var mediaErr *catalog.MediaStoreError
		if err != nil && update && errors.As(err, &mediaErr) {
			h.logger.Warn("Failed to stage slot", "type", h.kind.Type(), "slot", slot, "error", err)
			req.failed[slot] = err
			continue
		}
		if err != nil {
			return fail(err)
		}
		req.staged[slot] = asset
	}
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", fmt.Errorf("invalid multipart body: %w", err)
	}
	if len(data) > maxFieldSize {
		return "", &catalog.ValidationError{
			Fields: []catalog.FieldError{{Field: part.FormName(), Reason: "is too long"}},
		}
	}
	return string(data), nil
}

func stagedAssets(staged map[string]catalog.MediaAsset) []catalog.MediaAsset {
	assets := make([]catalog.MediaAsset, 0, len(staged))
	for _, a := range staged {
		assets = append(assets, a)
	}
	return assets
}
