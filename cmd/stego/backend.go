package main

import (
	"context"
	"strings"
	"time"

	"github.com/atinyakov/GophStego/internal/carrier"
	"github.com/atinyakov/GophStego/internal/client"
	"github.com/atinyakov/GophStego/internal/detect"
	"github.com/atinyakov/GophStego/internal/models"
	"github.com/atinyakov/GophStego/internal/payload"
	handler "github.com/atinyakov/GophStego/internal/server/handler/http"
	"github.com/atinyakov/GophStego/internal/service"
)

// embedOutcome is what the CLI needs to report and save after an embed.
type embedOutcome struct {
	Output      []byte
	Kind        string
	Format      carrier.Format
	PayloadSize int
	Capacity    int
}

// backend runs the engine operations either in process or on a server.
type backend interface {
	Embed(ctx context.Context, req service.EmbedRequest) (*embedOutcome, error)
	Extract(ctx context.Context, req service.ExtractRequest) (*payload.Header, []payload.File, error)
	Peek(ctx context.Context, req service.ExtractRequest) (*payload.Header, error)
	Capacity(ctx context.Context, data []byte, size int64) (*handler.CapacityResponse, error)
	GenerateKey(ctx context.Context) (string, error)
	Detect(ctx context.Context, name string, data []byte) (*detect.Report, error)
	History(ctx context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error)
}

type historyLister interface {
	List(ctx context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error)
}

// localBackend drives the engine directly and records history locally.
type localBackend struct {
	stego   *service.StegoService
	history historyLister
	actor   string
}

func (b *localBackend) Embed(ctx context.Context, req service.EmbedRequest) (*embedOutcome, error) {
	req.Actor = b.actor
	res, err := b.stego.Embed(ctx, req)
	if err != nil {
		return nil, err
	}
	return &embedOutcome{
		Output:      res.Output,
		Kind:        res.Kind.String(),
		Format:      res.Format,
		PayloadSize: res.PayloadSize,
		Capacity:    res.Capacity,
	}, nil
}

func (b *localBackend) Extract(ctx context.Context, req service.ExtractRequest) (*payload.Header, []payload.File, error) {
	req.Actor = b.actor
	res, err := b.stego.Extract(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res.Header, res.Files, nil
}

func (b *localBackend) Peek(ctx context.Context, req service.ExtractRequest) (*payload.Header, error) {
	req.Actor = b.actor
	return b.stego.PeekMetadata(ctx, req)
}

func (b *localBackend) Capacity(_ context.Context, data []byte, size int64) (*handler.CapacityResponse, error) {
	report, err := b.stego.EstimateCapacity(data)
	if err != nil {
		return nil, err
	}
	out := &handler.CapacityResponse{CapacityReport: report}
	if size > 0 {
		kind, err := carrier.ParseKind(report.Kind)
		if err != nil {
			return nil, err
		}
		out.EstimatedEmbedMS = b.stego.EstimateTime(kind, service.StageEmbed, size).Milliseconds()
		out.EstimatedExtractMS = b.stego.EstimateTime(kind, service.StageExtract, size).Milliseconds()
	}
	return out, nil
}

func (b *localBackend) GenerateKey(ctx context.Context) (string, error) {
	return b.stego.GenerateKey(ctx, b.actor)
}

func (b *localBackend) Detect(ctx context.Context, name string, data []byte) (*detect.Report, error) {
	return b.stego.Detect(ctx, service.DetectRequest{Carrier: data, CarrierName: name, Actor: b.actor})
}

func (b *localBackend) History(ctx context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error) {
	return b.history.List(ctx, filter)
}

// remoteBackend forwards operations to a GophStego server. The server
// decides the actor from the client certificate. Progress is reported at
// the start and end only.
type remoteBackend struct {
	api *client.Client
}

func (b *remoteBackend) Embed(ctx context.Context, req service.EmbedRequest) (*embedOutcome, error) {
	progress(req.Progress, service.StageDetect, 0)
	reply, err := b.api.Embed(ctx, client.EmbedParams{
		Carrier:        client.Upload{Name: req.CarrierName, Data: req.Carrier},
		Files:          req.Files,
		Author:         req.Author,
		Key:            req.Key,
		AccessPassword: req.AccessPassword,
		Compress:       req.Compress,
	})
	if err != nil {
		return nil, err
	}
	progress(req.Progress, service.StageDone, 1)
	return &embedOutcome{
		Output:      reply.Output,
		Kind:        reply.Kind,
		Format:      carrier.Format(strings.TrimPrefix(reply.ContentType, "image/")),
		PayloadSize: reply.PayloadSize,
		Capacity:    reply.Capacity,
	}, nil
}

func (b *remoteBackend) Extract(ctx context.Context, req service.ExtractRequest) (*payload.Header, []payload.File, error) {
	progress(req.Progress, service.StageDetect, 0)
	res, err := b.api.Extract(ctx, client.Upload{Name: req.CarrierName, Data: req.Carrier}, req.Key, req.AccessPassword)
	if err != nil {
		return nil, nil, err
	}
	files := make([]payload.File, len(res.Files))
	for i, f := range res.Files {
		files[i] = payload.File{Name: f.Name, Content: f.Content}
	}
	progress(req.Progress, service.StageDone, 1)
	return res.Header, files, nil
}

func (b *remoteBackend) Peek(ctx context.Context, req service.ExtractRequest) (*payload.Header, error) {
	return b.api.Peek(ctx, client.Upload{Name: req.CarrierName, Data: req.Carrier}, req.Key, req.AccessPassword)
}

func (b *remoteBackend) Capacity(ctx context.Context, data []byte, size int64) (*handler.CapacityResponse, error) {
	return b.api.Capacity(ctx, client.Upload{Name: "carrier", Data: data}, size)
}

func (b *remoteBackend) GenerateKey(ctx context.Context) (string, error) {
	return b.api.GenerateKey(ctx)
}

func (b *remoteBackend) Detect(ctx context.Context, name string, data []byte) (*detect.Report, error) {
	return b.api.Detect(ctx, client.Upload{Name: name, Data: data})
}

func (b *remoteBackend) History(ctx context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error) {
	return b.api.History(ctx, filter)
}

func progress(p service.ProgressSink, stage service.Stage, fraction float64) {
	if p != nil {
		p.Progress(stage, fraction)
	}
}

// estimate formats a millisecond estimate for display.
func estimate(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(100 * time.Millisecond).String()
}
