// Package service implements the steganographic container engine: it packs
// files into a container, seals it and hides it in a carrier, and reverses
// the process. Persistence of the operation history is delegated to a
// HistorySink.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/GophStego/internal/carrier"
	"github.com/atinyakov/GophStego/internal/carrier/trailer"
	"github.com/atinyakov/GophStego/internal/detect"
	"github.com/atinyakov/GophStego/internal/envelope"
	"github.com/atinyakov/GophStego/internal/models"
	"github.com/atinyakov/GophStego/internal/payload"
)

// HistorySink receives one record per engine operation.
type HistorySink interface {
	// Append stores rec. Implementations must be safe for concurrent use.
	Append(ctx context.Context, rec models.OperationRecord) error
}

// Stage names a coarse step of an operation.
type Stage string

const (
	StageDetect  Stage = "detect"
	StagePack    Stage = "pack"
	StageEncrypt Stage = "encrypt"
	StageEmbed   Stage = "embed"
	StageExtract Stage = "extract"
	StageDecrypt Stage = "decrypt"
	StageUnpack  Stage = "unpack"
	StageDone    Stage = "done"
)

// ProgressSink receives progress updates. fraction grows monotonically from 0 to 1.
type ProgressSink interface {
	Progress(stage Stage, fraction float64)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(stage Stage, fraction float64)

// Progress implements ProgressSink.
func (f ProgressFunc) Progress(stage Stage, fraction float64) { f(stage, fraction) }

type nopProgress struct{}

func (nopProgress) Progress(Stage, float64) {}

// Config is the engine configuration.
type Config struct {
	// Envelope selects cipher suite and password KDF.
	Envelope envelope.Config
	// GifCapRatio caps GIF trailers at this multiple of the GIF size; 0 disables the cap.
	GifCapRatio float64
	// ImageThroughput and GifThroughput are bytes per second used by EstimateTime.
	ImageThroughput float64
	GifThroughput   float64
	// Clock returns the current time; nil means time.Now.
	Clock func() time.Time
}

// Default throughputs used when Config leaves them zero.
const (
	DefaultImageThroughput = 1 << 20
	DefaultGifThroughput   = 32 << 20
)

// StegoService is the container engine. It holds no per-operation state and
// is safe for concurrent use.
type StegoService struct {
	cfg      Config
	sealer   *envelope.Sealer
	detector *detect.Registry
	history  HistorySink
	log      *zap.Logger
}

// NewStegoService validates cfg and constructs the engine.
// history may be nil, in which case records are dropped.
func NewStegoService(cfg Config, history HistorySink, log *zap.Logger) (*StegoService, error) {
	sealer, err := envelope.New(cfg.Envelope)
	if err != nil {
		return nil, fmt.Errorf("envelope config: %w", err)
	}
	if cfg.ImageThroughput <= 0 {
		cfg.ImageThroughput = DefaultImageThroughput
	}
	if cfg.GifThroughput <= 0 {
		cfg.GifThroughput = DefaultGifThroughput
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Envelope = sealer.Config()
	return &StegoService{cfg: cfg, sealer: sealer, detector: detect.Default(), history: history, log: log}, nil
}

// Config returns the effective configuration.
func (s *StegoService) Config() Config { return s.cfg }

// EmbedRequest describes an embed operation.
type EmbedRequest struct {
	// Carrier is the original carrier file content. It is never modified.
	Carrier []byte
	// CarrierName is recorded in history only.
	CarrierName string
	Files       []payload.File
	Author      string
	Key         envelope.KeyMaterial
	// AccessPassword, when set, must be supplied again to extract the files.
	AccessPassword string
	// Compress deflates each file whose content shrinks.
	Compress bool
	// Actor is recorded in history only.
	Actor    string
	Progress ProgressSink
}

// EmbedResult is the outcome of a successful embed.
type EmbedResult struct {
	// Output is the complete new carrier.
	Output []byte
	Kind   carrier.Kind
	Format carrier.Format
	// PayloadSize is the number of hidden bytes written, envelope included.
	PayloadSize int
	// Capacity is the carrier capacity, or trailer.Unbounded.
	Capacity int
}

// ExtractRequest describes an extract or peek operation.
type ExtractRequest struct {
	Carrier        []byte
	CarrierName    string
	Key            envelope.KeyMaterial
	AccessPassword string
	Actor          string
	Progress       ProgressSink
}

// ExtractResult is the outcome of a successful extract.
type ExtractResult struct {
	Kind   carrier.Kind
	Header *payload.Header
	Files  []payload.File
}

// Embed packs, seals and hides req.Files in req.Carrier. The returned output
// is complete; on any error nothing is returned.
func (s *StegoService) Embed(ctx context.Context, req EmbedRequest) (res *EmbedResult, err error) {
	started := s.cfg.Clock()
	progress := s.progress(req.Progress, models.OpEmbed)
	rec := models.OperationRecord{Operation: models.OpEmbed, CarrierName: req.CarrierName, Actor: req.Actor, FileCount: len(req.Files)}
	for _, f := range req.Files {
		rec.PayloadBytes += int64(len(f.Content))
	}
	defer func() { s.record(ctx, rec, started, err) }()

	progress.Progress(StageDetect, 0)
	kind, format, codec, err := s.codecFor(req.Carrier)
	if err != nil {
		return nil, err
	}
	rec.CarrierKind = kind.String()
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	capacity, err := codec.Capacity(req.Carrier)
	if err != nil {
		return nil, err
	}

	progress.Progress(StagePack, 0.1)
	c := &payload.Container{
		Author:   req.Author,
		Created:  s.cfg.Clock().UTC().Truncate(time.Second),
		Files:    req.Files,
		Compress: req.Compress,
	}
	if req.AccessPassword != "" {
		if c.Token, err = payload.NewAccessToken(req.AccessPassword); err != nil {
			return nil, err
		}
	}
	packed, err := payload.Pack(c, kind.MaxFiles())
	if err != nil {
		return nil, err
	}
	sealedSize := len(packed) + s.sealer.Overhead(req.Key)
	if capacity != trailer.Unbounded && sealedSize > capacity {
		return nil, fmt.Errorf("%w: payload needs %d bytes, %s carrier holds %d", models.ErrCapacityExceeded, sealedSize, kind, capacity)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress.Progress(StageEncrypt, 0.35)
	sealed, err := s.sealer.Encrypt(packed, req.Key, []byte(kind.String()))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress.Progress(StageEmbed, 0.6)
	out, err := codec.Embed(req.Carrier, sealed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress.Progress(StageDone, 1)
	return &EmbedResult{
		Output:      out,
		Kind:        kind,
		Format:      carrier.OutputFormat(format),
		PayloadSize: len(sealed),
		Capacity:    capacity,
	}, nil
}

// Extract recovers the files hidden in req.Carrier.
func (s *StegoService) Extract(ctx context.Context, req ExtractRequest) (res *ExtractResult, err error) {
	started := s.cfg.Clock()
	rec := models.OperationRecord{Operation: models.OpExtract, CarrierName: req.CarrierName, Actor: req.Actor}
	defer func() { s.record(ctx, rec, started, err) }()

	kind, plaintext, err := s.open(ctx, req, &rec)
	if err != nil {
		return nil, err
	}

	c, err := payload.Unpack(plaintext, kind.MaxFiles())
	if err != nil {
		return nil, err
	}
	if err := checkAccess(c.Token, req.AccessPassword); err != nil {
		return nil, err
	}
	h := c.Header()
	rec.FileCount = h.FileCount
	rec.PayloadBytes = h.TotalSize()

	s.progress(req.Progress, models.OpExtract).Progress(StageDone, 1)
	return &ExtractResult{Kind: kind, Header: h, Files: c.Files}, nil
}

// PeekMetadata authenticates the whole payload but returns only the header:
// author, timestamp, file names and sizes. No file content leaves the engine.
// The access password is not required to read the header.
func (s *StegoService) PeekMetadata(ctx context.Context, req ExtractRequest) (h *payload.Header, err error) {
	started := s.cfg.Clock()
	rec := models.OperationRecord{Operation: models.OpPeek, CarrierName: req.CarrierName, Actor: req.Actor}
	defer func() { s.record(ctx, rec, started, err) }()

	kind, plaintext, err := s.open(ctx, req, &rec)
	if err != nil {
		return nil, err
	}
	if h, err = payload.UnpackHeader(plaintext, kind.MaxFiles()); err != nil {
		return nil, err
	}
	rec.FileCount = h.FileCount
	rec.PayloadBytes = h.TotalSize()

	s.progress(req.Progress, models.OpPeek).Progress(StageDone, 1)
	return h, nil
}

// GenerateKey returns a fresh random key and records the operation.
func (s *StegoService) GenerateKey(ctx context.Context, actor string) (key string, err error) {
	started := s.cfg.Clock()
	defer func() {
		s.record(ctx, models.OperationRecord{Operation: models.OpKeygen, Actor: actor}, started, err)
	}()
	return envelope.GenerateKey()
}

// DetectRequest describes a keyless scan of a carrier.
type DetectRequest struct {
	Carrier     []byte
	CarrierName string
	Actor       string
}

// Detect looks for traces of hidden data in req.Carrier without any key.
// It never decrypts anything, so it also reports data hidden by other tools.
func (s *StegoService) Detect(ctx context.Context, req DetectRequest) (report *detect.Report, err error) {
	started := s.cfg.Clock()
	rec := models.OperationRecord{Operation: models.OpDetect, CarrierName: req.CarrierName, Actor: req.Actor}
	defer func() { s.record(ctx, rec, started, err) }()

	if report, err = s.detector.Scan(req.Carrier); err != nil {
		return nil, err
	}
	rec.CarrierKind = report.Kind
	for _, f := range report.Findings {
		if f.Detected && f.PayloadSize > rec.PayloadBytes {
			rec.PayloadBytes = f.PayloadSize
		}
	}
	if report.Suspicious {
		rec.Detail = "hidden data suspected"
	}
	return report, nil
}

// open runs the shared front half of extract and peek: detect, pull the
// hidden bytes and decrypt them.
func (s *StegoService) open(ctx context.Context, req ExtractRequest, rec *models.OperationRecord) (carrier.Kind, []byte, error) {
	progress := s.progress(req.Progress, rec.Operation)

	progress.Progress(StageDetect, 0)
	kind, _, codec, err := s.codecFor(req.Carrier)
	if err != nil {
		return 0, nil, err
	}
	rec.CarrierKind = kind.String()
	if err := req.Key.Validate(); err != nil {
		return 0, nil, err
	}

	progress.Progress(StageExtract, 0.1)
	raw, err := codec.Extract(req.Carrier)
	if err != nil {
		return 0, nil, err
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	progress.Progress(StageDecrypt, 0.5)
	plaintext, err := s.sealer.Decrypt(raw, req.Key, []byte(kind.String()))
	if err != nil {
		return 0, nil, err
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	progress.Progress(StageUnpack, 0.9)
	return kind, plaintext, nil
}

func (s *StegoService) codecFor(data []byte) (carrier.Kind, carrier.Format, carrier.Codec, error) {
	kind, format, err := carrier.Detect(data)
	if err != nil {
		return 0, "", nil, err
	}
	codec, err := carrier.For(kind, carrier.Options{GifCapRatio: s.cfg.GifCapRatio})
	if err != nil {
		return 0, "", nil, err
	}
	return kind, format, codec, nil
}

// checkAccess enforces the access password both ways: a protected container
// needs the right password, and a password offered for an unprotected one is
// rejected so callers never believe a container is protected when it is not.
func checkAccess(token []byte, password string) error {
	switch {
	case len(token) == 0 && password == "":
		return nil
	case len(token) == 0:
		return fmt.Errorf("%w: container has no access password", models.ErrAuthenticationFailed)
	case !payload.VerifyAccessToken(token, password):
		return fmt.Errorf("%w: wrong access password", models.ErrAuthenticationFailed)
	}
	return nil
}

func (s *StegoService) record(ctx context.Context, rec models.OperationRecord, started time.Time, err error) {
	now := s.cfg.Clock()
	rec.ID = uuid.NewString()
	rec.Timestamp = now.UTC()
	rec.DurationMS = now.Sub(started).Milliseconds()
	rec.Result = models.Outcome(err)
	if err != nil {
		rec.Detail = err.Error()
	}

	fields := []zap.Field{
		zap.String("operation", string(rec.Operation)),
		zap.String("carrier_kind", rec.CarrierKind),
		zap.String("carrier", rec.CarrierName),
		zap.String("result", rec.Result),
		zap.Int("files", rec.FileCount),
		zap.Int64("duration_ms", rec.DurationMS),
	}
	if err != nil {
		s.log.Warn("operation failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Info("operation completed", fields...)
	}

	if s.history == nil {
		return
	}
	// the record is written even when the caller's context is already done
	if herr := s.history.Append(context.WithoutCancel(ctx), rec); herr != nil {
		s.log.Error("failed to append history record", zap.Error(herr))
	}
}

// progress forwards updates to p and traces each stage at Debug level.
func (s *StegoService) progress(p ProgressSink, op models.Operation) ProgressSink {
	if p == nil {
		p = nopProgress{}
	}
	return ProgressFunc(func(stage Stage, fraction float64) {
		s.log.Debug("stage", zap.String("operation", string(op)), zap.String("stage", string(stage)))
		p.Progress(stage, fraction)
	})
}
