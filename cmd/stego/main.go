// Package main is the stego command line tool. It hides files inside images
// and GIFs and recovers them, either in process or through a GophStego
// server when -url is set.
package main

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"

	"github.com/atinyakov/GophStego/internal/atomicfile"
	"github.com/atinyakov/GophStego/internal/carrier/trailer"
	"github.com/atinyakov/GophStego/internal/client"
	"github.com/atinyakov/GophStego/internal/config"
	"github.com/atinyakov/GophStego/internal/db"
	"github.com/atinyakov/GophStego/internal/envelope"
	"github.com/atinyakov/GophStego/internal/logger"
	"github.com/atinyakov/GophStego/internal/models"
	"github.com/atinyakov/GophStego/internal/repository"
	"github.com/atinyakov/GophStego/internal/service"
)

var (
	version   string
	buildDate string
)

// cliOptions holds the command line of one invocation.
type cliOptions struct {
	cmd            string
	carrier        string
	files          string
	out            string
	outDir         string
	author         string
	key            string
	keyFile        string
	password       string
	accessPassword string
	copyKey        bool
	compress       bool
	size           int64
	limit          int
	ops            string
	url            string
	certFile       string
	certKey        string
	caFile         string
	quiet          bool
	showVer        bool

	cfg *config.Options
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		p := &printer{out: os.Stdout, errOut: os.Stderr}
		p.fail("%v", err)
		os.Exit(1)
	}
}

// parseArgs builds the options from args, the config file and the environment.
func parseArgs(args []string, getenv func(string) string) (*cliOptions, error) {
	o := &cliOptions{cfg: config.Defaults()}
	o.cfg.LogLevel = "warn"
	if dir, err := os.UserConfigDir(); err == nil {
		o.cfg.HistoryFile = filepath.Join(dir, "gophstego", "history.json")
	}

	flags := flag.NewFlagSet("stego", flag.ContinueOnError)
	o.cfg.RegisterFlags(flags)
	flags.StringVar(&o.cmd, "cmd", "", "command: embed | extract | peek | capacity | detect | keygen | history")
	flags.StringVar(&o.carrier, "carrier", "", "carrier image or GIF")
	flags.StringVar(&o.files, "files", "", "comma separated files to hide")
	flags.StringVar(&o.out, "out", "", "output carrier path (embed)")
	flags.StringVar(&o.outDir, "outdir", ".", "directory for recovered files (extract)")
	flags.StringVar(&o.author, "author", "", "author stored in the container")
	flags.StringVar(&o.key, "key", "", "raw encryption key, at least 32 bytes")
	flags.StringVar(&o.keyFile, "key-file", "", "file holding the raw encryption key")
	flags.StringVar(&o.password, "password", "", `encryption password; "-" prompts`)
	flags.StringVar(&o.accessPassword, "access-password", "", `access password; "-" prompts`)
	flags.BoolVar(&o.copyKey, "copy", false, "copy a generated key to the clipboard")
	flags.BoolVar(&o.compress, "compress", false, "deflate files that shrink (embed)")
	flags.Int64Var(&o.size, "size", 0, "bytes to hide, for capacity time estimates")
	flags.IntVar(&o.limit, "limit", 0, "max history records")
	flags.StringVar(&o.ops, "ops", "", "comma separated operations to list (history)")
	flags.StringVar(&o.url, "url", "", "server base URL; empty runs locally")
	flags.StringVar(&o.certFile, "cert", "", "client certificate for the server")
	flags.StringVar(&o.certKey, "cert-key", "", "client certificate private key")
	flags.StringVar(&o.caFile, "ca", "certs/ca.crt", "CA certificate of the server")
	flags.BoolVar(&o.quiet, "q", false, "print results only")
	flags.BoolVar(&o.showVer, "version", false, "show build version and date")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if err := o.cfg.Resolve(getenv); err != nil {
		return nil, err
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseArgs(args, os.Getenv)
	if err != nil {
		return err
	}
	p := &printer{out: stdout, errOut: stderr, quiet: o.quiet}

	if o.showVer {
		fmt.Fprintf(stdout, "GophStego CLI\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return nil
	}

	log := logger.New()
	if err := log.InitConsole(o.cfg.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Log.Sync() }()

	b, closeBackend, err := o.backend(log.Log)
	if err != nil {
		return err
	}
	defer closeBackend()

	switch o.cmd {
	case "embed":
		return o.embed(ctx, b, p)
	case "extract":
		return o.extract(ctx, b, p)
	case "peek":
		return o.peek(ctx, b, p)
	case "capacity":
		return o.capacity(ctx, b, p)
	case "detect":
		return o.detect(ctx, b, p)
	case "keygen":
		return o.keygen(ctx, b, p)
	case "history":
		return o.history(ctx, b, p)
	case "":
		return fmt.Errorf("%w: -cmd is required", models.ErrInvalidInput)
	}
	return fmt.Errorf("%w: unknown command %q", models.ErrInvalidInput, o.cmd)
}

// backend returns the remote backend when -url is set and the local one
// otherwise. The returned func releases its resources.
func (o *cliOptions) backend(log *zap.Logger) (backend, func(), error) {
	if o.url != "" {
		httpClient, err := client.LoadClientCertificate(o.certFile, o.certKey, o.caFile)
		if err != nil {
			return nil, nil, err
		}
		return &remoteBackend{api: client.New(o.url, httpClient)}, func() {}, nil
	}

	var (
		sink    service.HistorySink
		lister  historyLister
		closeFn = func() {}
	)
	if o.cfg.DatabaseDSN != "" {
		conn, err := db.InitPostgres(o.cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		h := repository.NewPostgresHistory(conn)
		sink, lister, closeFn = h, h, func() { _ = conn.Close() }
	} else {
		h := repository.NewJSONHistory(o.cfg.HistoryFile, o.cfg.HistoryMax)
		sink, lister = h, h
	}

	stego, err := service.NewStegoService(service.Config{
		Envelope:        o.cfg.Envelope,
		GifCapRatio:     o.cfg.GifCapRatio,
		ImageThroughput: o.cfg.ImageThroughput,
		GifThroughput:   o.cfg.GifThroughput,
	}, sink, log)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return &localBackend{stego: stego, history: lister, actor: localActor()}, closeFn, nil
}

func (o *cliOptions) embed(ctx context.Context, b backend, p *printer) error {
	data, err := o.readCarrier()
	if err != nil {
		return err
	}
	paths := splitList(o.files)
	if len(paths) == 0 {
		return fmt.Errorf("%w: -files is required", models.ErrInvalidInput)
	}
	files, err := readFiles(paths)
	if err != nil {
		return err
	}
	km, err := o.keyMaterial(true)
	if err != nil {
		return err
	}
	access, err := secretFlag(o.accessPassword, "Access password: ", true)
	if err != nil {
		return err
	}

	res, err := b.Embed(ctx, service.EmbedRequest{
		Carrier:        data,
		CarrierName:    filepath.Base(o.carrier),
		Files:          files,
		Author:         o.author,
		Key:            km,
		AccessPassword: access,
		Compress:       o.compress,
		Progress:       p.progress(),
	})
	if err != nil {
		return err
	}

	out := o.out
	if out == "" {
		out = defaultOutput(o.carrier, res.Format.Ext())
	}
	if err := writeOutput(out, res.Output); err != nil {
		return err
	}
	capacity := fmt.Sprintf("%d bytes", res.Capacity)
	if res.Capacity == trailer.Unbounded {
		capacity = "unbounded"
	}
	p.success("hid %d file(s) in %s carrier %s", len(files), res.Kind, out)
	p.info("payload %d bytes, capacity %s", res.PayloadSize, capacity)
	return nil
}

func (o *cliOptions) extract(ctx context.Context, b backend, p *printer) error {
	req, err := o.extractRequest(false)
	if err != nil {
		return err
	}
	req.Progress = p.progress()
	header, files, err := b.Extract(ctx, req)
	if err != nil {
		return err
	}
	p.header(header)
	saved, err := saveFiles(o.outDir, files)
	for _, path := range saved {
		p.success("saved %s", path)
	}
	return err
}

func (o *cliOptions) peek(ctx context.Context, b backend, p *printer) error {
	req, err := o.extractRequest(true)
	if err != nil {
		return err
	}
	header, err := b.Peek(ctx, req)
	if err != nil {
		return err
	}
	p.header(header)
	return nil
}

func (o *cliOptions) capacity(ctx context.Context, b backend, p *printer) error {
	data, err := o.readCarrier()
	if err != nil {
		return err
	}
	size := o.size
	if size == 0 {
		for _, path := range splitList(o.files) {
			fi, err := os.Stat(path)
			if err != nil {
				return err
			}
			size += fi.Size()
		}
	}

	report, err := b.Capacity(ctx, data, size)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Kind:      %s (%s)\n", report.Kind, report.Format)
	if report.Unbounded {
		fmt.Fprintln(p.out, "Capacity:  unbounded")
	} else {
		fmt.Fprintf(p.out, "Capacity:  %d bytes (%s)\n", report.Capacity, humanBytes(int64(report.Capacity)))
		fmt.Fprintf(p.out, "Usable:    %d bytes for a single file\n", report.Usable)
	}
	fmt.Fprintf(p.out, "Max files: %d\n", report.MaxFiles)
	if size > 0 {
		fmt.Fprintf(p.out, "Estimate:  embed %s, extract %s for %s\n",
			estimate(report.EstimatedEmbedMS), estimate(report.EstimatedExtractMS), humanBytes(size))
		if !report.Unbounded && size > int64(report.Usable) {
			p.warning("%s will not fit this carrier", humanBytes(size))
		}
	}
	return nil
}

func (o *cliOptions) detect(ctx context.Context, b backend, p *printer) error {
	data, err := o.readCarrier()
	if err != nil {
		return err
	}
	report, err := b.Detect(ctx, filepath.Base(o.carrier), data)
	if err != nil {
		return err
	}
	p.detection(report)
	return nil
}

func (o *cliOptions) keygen(ctx context.Context, b backend, p *printer) error {
	key, err := b.GenerateKey(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(p.out, key)
	if o.copyKey {
		if err := clipboard.WriteAll(key); err != nil {
			p.warning("could not copy the key to the clipboard: %v", err)
			return nil
		}
		p.success("key copied to the clipboard")
	}
	return nil
}

func (o *cliOptions) history(ctx context.Context, b backend, p *printer) error {
	filter := models.HistoryFilter{Limit: o.limit}
	for _, op := range splitList(o.ops) {
		filter.Operations = append(filter.Operations, models.Operation(op))
	}
	records, err := b.History(ctx, filter)
	if err != nil {
		return err
	}
	p.records(records)
	return nil
}

func (o *cliOptions) extractRequest(peek bool) (service.ExtractRequest, error) {
	data, err := o.readCarrier()
	if err != nil {
		return service.ExtractRequest{}, err
	}
	km, err := o.keyMaterial(false)
	if err != nil {
		return service.ExtractRequest{}, err
	}
	req := service.ExtractRequest{Carrier: data, CarrierName: filepath.Base(o.carrier), Key: km}
	if !peek {
		if req.AccessPassword, err = secretFlag(o.accessPassword, "Access password: ", false); err != nil {
			return service.ExtractRequest{}, err
		}
	}
	return req, nil
}

func (o *cliOptions) readCarrier() ([]byte, error) {
	if o.carrier == "" {
		return nil, fmt.Errorf("%w: -carrier is required", models.ErrInvalidInput)
	}
	return os.ReadFile(o.carrier)
}

// keyMaterial resolves the encryption secret. A raw key comes from -key or
// -key-file; without one the password is taken from -password or prompted
// for. confirm asks twice.
func (o *cliOptions) keyMaterial(confirm bool) (envelope.KeyMaterial, error) {
	var km envelope.KeyMaterial
	switch {
	case o.keyFile != "":
		data, err := os.ReadFile(o.keyFile)
		if err != nil {
			return km, fmt.Errorf("read key file: %w", err)
		}
		km.Key = bytes.TrimSpace(data)
	case o.key != "":
		km.Key = []byte(o.key)
	}
	if len(km.Key) > 0 && o.password == "" {
		return km, nil
	}

	pw := o.password
	if pw == "" {
		pw = "-"
	}
	var err error
	km.Password, err = secretFlag(pw, "Password: ", confirm)
	return km, err
}

// secretFlag returns v, prompting for it when it is "-".
func secretFlag(v, prompt string, confirm bool) (string, error) {
	if v != "-" {
		return v, nil
	}
	if confirm {
		return client.ReadNewSecret(prompt)
	}
	return client.ReadSecret(prompt)
}

func defaultOutput(carrierPath, ext string) string {
	base := strings.TrimSuffix(carrierPath, filepath.Ext(carrierPath))
	return base + ".stego" + ext
}

func writeOutput(path string, data []byte) error {
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func localActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
