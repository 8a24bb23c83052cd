// Package http provides the HTTP API of the steganography engine: multipart
// endpoints for embedding, extracting and inspecting carriers, key
// generation and the operation history.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/atinyakov/GophStego/internal/carrier"
	"github.com/atinyakov/GophStego/internal/detect"
	"github.com/atinyakov/GophStego/internal/envelope"
	"github.com/atinyakov/GophStego/internal/middleware"
	"github.com/atinyakov/GophStego/internal/models"
	"github.com/atinyakov/GophStego/internal/payload"
	"github.com/atinyakov/GophStego/internal/service"
)

// Multipart field names shared with the client.
const (
	FieldCarrier        = "carrier"
	FieldFile           = "file"
	FieldAuthor         = "author"
	FieldKey            = "key"
	FieldPassword       = "password"
	FieldAccessPassword = "access_password"
	FieldSize           = "size"
	FieldCompress       = "compress"
)

// Response headers set by Embed.
const (
	HeaderPayloadSize = "X-Payload-Size"
	HeaderCapacity    = "X-Capacity"
	HeaderCarrierKind = "X-Carrier-Kind"
)

// memoryLimit is the part of a multipart form kept in memory; the rest is
// spooled to temporary files by net/http.
const memoryLimit = 32 << 20

// StegoService defines the engine operations required by the StegoHandler.
type StegoService interface {
	Embed(ctx context.Context, req service.EmbedRequest) (*service.EmbedResult, error)
	Extract(ctx context.Context, req service.ExtractRequest) (*service.ExtractResult, error)
	PeekMetadata(ctx context.Context, req service.ExtractRequest) (*payload.Header, error)
	EstimateCapacity(data []byte) (*service.CapacityReport, error)
	EstimateTime(kind carrier.Kind, op service.Stage, totalBytes int64) time.Duration
	GenerateKey(ctx context.Context, actor string) (string, error)
	Detect(ctx context.Context, req service.DetectRequest) (*detect.Report, error)
}

// StegoHandler handles the carrier endpoints.
type StegoHandler struct {
	Stego StegoService
	// MaxUploadBytes bounds the request body; zero means no limit.
	MaxUploadBytes int64
}

// FileResponse is a recovered file. Content is base64 encoded in JSON.
type FileResponse struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// ExtractResponse is the body of a successful extract.
type ExtractResponse struct {
	Header *payload.Header `json:"header"`
	Files  []FileResponse  `json:"files"`
}

// CapacityResponse is the body of a successful capacity request.
type CapacityResponse struct {
	*service.CapacityReport
	EstimatedEmbedMS   int64 `json:"estimated_embed_ms,omitempty"`
	EstimatedExtractMS int64 `json:"estimated_extract_ms,omitempty"`
}

// KeyResponse is the body of a successful key generation.
type KeyResponse struct {
	Key string `json:"key"`
}

// Embed handles POST /api/embed. The form carries one carrier, one or more
// files, the key material and optional author, access password and compress
// flag. The response body is the new carrier.
func (h *StegoHandler) Embed(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	carrierName, carrierData, err := formCarrier(form)
	if err != nil {
		writeError(w, err)
		return
	}

	headers := form.File[FieldFile]
	if len(headers) == 0 {
		writeError(w, fmt.Errorf("%w: at least one %q part is required", models.ErrInvalidInput, FieldFile))
		return
	}
	files := make([]payload.File, 0, len(headers))
	for _, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			writeError(w, err)
			return
		}
		files = append(files, payload.File{Name: fh.Filename, Content: content})
	}

	compress := false
	if v := formValue(form, FieldCompress); v != "" {
		if compress, err = strconv.ParseBool(v); err != nil {
			writeError(w, fmt.Errorf("%w: bad %s %q", models.ErrInvalidInput, FieldCompress, v))
			return
		}
	}

	res, err := h.Stego.Embed(r.Context(), service.EmbedRequest{
		Carrier:        carrierData,
		CarrierName:    carrierName,
		Files:          files,
		Author:         formValue(form, FieldAuthor),
		Key:            keyMaterial(form),
		AccessPassword: formValue(form, FieldAccessPassword),
		Compress:       compress,
		Actor:          middleware.GetActorFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "stego"+res.Format.Ext()))
	w.Header().Set(HeaderPayloadSize, strconv.Itoa(res.PayloadSize))
	w.Header().Set(HeaderCapacity, strconv.Itoa(res.Capacity))
	w.Header().Set(HeaderCarrierKind, res.Kind.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Output)
}

// Extract handles POST /api/extract and returns every hidden file.
func (h *StegoHandler) Extract(w http.ResponseWriter, r *http.Request) {
	req, err := h.extractRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Stego.Extract(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	out := ExtractResponse{Header: res.Header, Files: make([]FileResponse, len(res.Files))}
	for i, f := range res.Files {
		out.Files[i] = FileResponse{Name: f.Name, Content: f.Content}
	}
	writeJSON(w, http.StatusOK, out)
}

// Peek handles POST /api/peek and returns the container header only.
func (h *StegoHandler) Peek(w http.ResponseWriter, r *http.Request) {
	req, err := h.extractRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	header, err := h.Stego.PeekMetadata(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, header)
}

// Capacity handles POST /api/capacity. An optional "size" field, the total
// size of the files to hide, adds time estimates to the report.
func (h *StegoHandler) Capacity(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	_, data, err := formCarrier(form)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.Stego.EstimateCapacity(data)
	if err != nil {
		writeError(w, err)
		return
	}

	out := CapacityResponse{CapacityReport: report}
	if v := formValue(form, FieldSize); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size < 0 {
			writeError(w, fmt.Errorf("%w: bad size %q", models.ErrInvalidInput, v))
			return
		}
		kind, err := carrier.ParseKind(report.Kind)
		if err != nil {
			writeError(w, err)
			return
		}
		out.EstimatedEmbedMS = h.Stego.EstimateTime(kind, service.StageEmbed, size).Milliseconds()
		out.EstimatedExtractMS = h.Stego.EstimateTime(kind, service.StageExtract, size).Milliseconds()
	}
	writeJSON(w, http.StatusOK, out)
}

// Detect handles POST /api/detect. It needs only the carrier and reports
// whether it seems to hold hidden data.
func (h *StegoHandler) Detect(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	name, data, err := formCarrier(form)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.Stego.Detect(r.Context(), service.DetectRequest{
		Carrier:     data,
		CarrierName: name,
		Actor:       middleware.GetActorFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GenerateKey handles POST /api/keys.
func (h *StegoHandler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.Stego.GenerateKey(r.Context(), middleware.GetActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, KeyResponse{Key: key})
}

func (h *StegoHandler) extractRequest(w http.ResponseWriter, r *http.Request) (service.ExtractRequest, error) {
	form, err := h.parseForm(w, r)
	if err != nil {
		return service.ExtractRequest{}, err
	}
	name, data, err := formCarrier(form)
	if err != nil {
		return service.ExtractRequest{}, err
	}
	return service.ExtractRequest{
		Carrier:        data,
		CarrierName:    name,
		Key:            keyMaterial(form),
		AccessPassword: formValue(form, FieldAccessPassword),
		Actor:          middleware.GetActorFromContext(r.Context()),
	}, nil
}

func (h *StegoHandler) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: invalid multipart body: %v", models.ErrInvalidInput, err)
	}
	return r.MultipartForm, nil
}

func formCarrier(form *multipart.Form) (string, []byte, error) {
	headers := form.File[FieldCarrier]
	if len(headers) != 1 {
		return "", nil, fmt.Errorf("%w: exactly one %q part is required", models.ErrInvalidInput, FieldCarrier)
	}
	data, err := readPart(headers[0])
	if err != nil {
		return "", nil, err
	}
	return headers[0].Filename, data, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %q: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read part %q: %w", fh.Filename, err)
	}
	return data, nil
}

func formValue(form *multipart.Form, name string) string {
	if v := form.Value[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// keyMaterial takes the key text as raw key bytes. Validation of the
// combination happens in the engine.
func keyMaterial(form *multipart.Form) envelope.KeyMaterial {
	km := envelope.KeyMaterial{Password: formValue(form, FieldPassword)}
	if k := formValue(form, FieldKey); k != "" {
		km.Key = []byte(k)
	}
	return km
}
