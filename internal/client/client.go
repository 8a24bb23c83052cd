// Package client talks to the stego API server. It mirrors the engine
// operations over multipart HTTP and maps failures back to the models
// error taxonomy, so callers handle local and remote errors alike.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/atinyakov/GophStego/internal/detect"
	"github.com/atinyakov/GophStego/internal/envelope"
	"github.com/atinyakov/GophStego/internal/models"
	"github.com/atinyakov/GophStego/internal/payload"
	handler "github.com/atinyakov/GophStego/internal/server/handler/http"
)

// Client is an API client. The zero HTTP field means http.DefaultClient.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a client for the server at baseURL, e.g. "https://localhost:8080".
func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient}
}

// Upload is a named blob sent as a multipart file part.
type Upload struct {
	Name string
	Data []byte
}

// EmbedParams are the inputs of a remote embed.
type EmbedParams struct {
	Carrier        Upload
	Files          []payload.File
	Author         string
	Key            envelope.KeyMaterial
	AccessPassword string
	Compress       bool
}

// EmbedReply is the outcome of a remote embed.
type EmbedReply struct {
	Output      []byte
	ContentType string
	Kind        string
	PayloadSize int
	Capacity    int
}

// Embed hides p.Files in p.Carrier on the server.
func (c *Client) Embed(ctx context.Context, p EmbedParams) (*EmbedReply, error) {
	resp, err := c.postForm(ctx, "/api/embed", func(w *multipart.Writer) error {
		if err := writeFile(w, handler.FieldCarrier, p.Carrier.Name, p.Carrier.Data); err != nil {
			return err
		}
		for _, f := range p.Files {
			if err := writeFile(w, handler.FieldFile, f.Name, f.Content); err != nil {
				return err
			}
		}
		fields := map[string]string{
			handler.FieldAuthor:         p.Author,
			handler.FieldAccessPassword: p.AccessPassword,
		}
		if p.Compress {
			fields[handler.FieldCompress] = "true"
		}
		return writeFields(w, fields, p.Key)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	reply := &EmbedReply{
		Output:      out,
		ContentType: resp.Header.Get("Content-Type"),
		Kind:        resp.Header.Get(handler.HeaderCarrierKind),
	}
	reply.PayloadSize, _ = strconv.Atoi(resp.Header.Get(handler.HeaderPayloadSize))
	reply.Capacity, _ = strconv.Atoi(resp.Header.Get(handler.HeaderCapacity))
	return reply, nil
}

// Extract recovers every file hidden in carrier.
func (c *Client) Extract(ctx context.Context, carrier Upload, key envelope.KeyMaterial, accessPassword string) (*handler.ExtractResponse, error) {
	var out handler.ExtractResponse
	if err := c.carrierCall(ctx, "/api/extract", carrier, key, accessPassword, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Peek reads the container header of carrier without file contents.
func (c *Client) Peek(ctx context.Context, carrier Upload, key envelope.KeyMaterial, accessPassword string) (*payload.Header, error) {
	var out payload.Header
	if err := c.carrierCall(ctx, "/api/peek", carrier, key, accessPassword, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Capacity reports how much carrier can hold. A positive size adds time
// estimates for hiding that many bytes.
func (c *Client) Capacity(ctx context.Context, carrier Upload, size int64) (*handler.CapacityResponse, error) {
	resp, err := c.postForm(ctx, "/api/capacity", func(w *multipart.Writer) error {
		if err := writeFile(w, handler.FieldCarrier, carrier.Name, carrier.Data); err != nil {
			return err
		}
		if size > 0 {
			return w.WriteField(handler.FieldSize, strconv.FormatInt(size, 10))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out handler.CapacityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode capacity response: %w", err)
	}
	return &out, nil
}

// Detect asks the server whether carrier seems to hold hidden data. No key
// is involved.
func (c *Client) Detect(ctx context.Context, carrier Upload) (*detect.Report, error) {
	resp, err := c.postForm(ctx, "/api/detect", func(w *multipart.Writer) error {
		return writeFile(w, handler.FieldCarrier, carrier.Name, carrier.Data)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out detect.Report
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	return &out, nil
}

// GenerateKey asks the server for a new random key.
func (c *Client) GenerateKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/keys", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out handler.KeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode key response: %w", err)
	}
	return out.Key, nil
}

// History lists the caller's operation history, newest first.
func (c *Client) History(ctx context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error) {
	q := url.Values{}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if len(filter.Operations) > 0 {
		ops := make([]string, len(filter.Operations))
		for i, op := range filter.Operations {
			ops[i] = string(op)
		}
		q.Set("operation", strings.Join(ops, ","))
	}
	target := c.BaseURL + "/api/history"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var records []models.OperationRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return records, nil
}

func (c *Client) carrierCall(ctx context.Context, path string, carrier Upload, key envelope.KeyMaterial, accessPassword string, out any) error {
	resp, err := c.postForm(ctx, path, func(w *multipart.Writer) error {
		if err := writeFile(w, handler.FieldCarrier, carrier.Name, carrier.Data); err != nil {
			return err
		}
		return writeFields(w, map[string]string{handler.FieldAccessPassword: accessPassword}, key)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// postForm builds a multipart body with fill and posts it to path.
func (c *Client) postForm(ctx context.Context, path string, fill func(w *multipart.Writer) error) (*http.Response, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := fill(w); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

// do sends req and turns non-2xx responses into errors.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

// decodeError maps an error response to the matching models sentinel. The
// server message is kept for context.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body handler.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("server error: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if sentinel := models.ErrorFor(body.Result); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, body.Error)
	}
	return fmt.Errorf("server error: %s: %s", resp.Status, body.Error)
}

func writeFile(w *multipart.Writer, field, name string, data []byte) error {
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func writeFields(w *multipart.Writer, fields map[string]string, key envelope.KeyMaterial) error {
	if len(key.Key) > 0 {
		fields[handler.FieldKey] = string(key.Key)
	}
	if key.Password != "" {
		fields[handler.FieldPassword] = key.Password
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return err
		}
	}
	return nil
}
