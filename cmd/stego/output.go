package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/atinyakov/GophStego/internal/atomicfile"
	"github.com/atinyakov/GophStego/internal/detect"
	"github.com/atinyakov/GophStego/internal/models"
	"github.com/atinyakov/GophStego/internal/payload"
	"github.com/atinyakov/GophStego/internal/service"
)

var (
	// Color printers
	infoColor    = color.New(color.FgBlue).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	warningColor = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
)

// printer writes results to out and status lines to errOut, so stdout can be
// piped (a generated key, for instance) while progress stays visible.
type printer struct {
	out    io.Writer
	errOut io.Writer
	quiet  bool
}

func (p *printer) info(format string, args ...any) {
	if !p.quiet {
		fmt.Fprintf(p.errOut, "%s %s\n", infoColor("[*]"), fmt.Sprintf(format, args...))
	}
}

func (p *printer) success(format string, args ...any) {
	if !p.quiet {
		fmt.Fprintf(p.errOut, "%s %s\n", successColor("[+]"), fmt.Sprintf(format, args...))
	}
}

func (p *printer) warning(format string, args ...any) {
	fmt.Fprintf(p.errOut, "%s %s\n", warningColor("[!]"), fmt.Sprintf(format, args...))
}

func (p *printer) fail(format string, args ...any) {
	fmt.Fprintf(p.errOut, "%s %s\n", errorColor("[-]"), fmt.Sprintf(format, args...))
}

// progress returns a sink printing one line per stage.
func (p *printer) progress() service.ProgressSink {
	return service.ProgressFunc(func(stage service.Stage, fraction float64) {
		p.info("%-8s %3.0f%%", stage, fraction*100)
	})
}

func (p *printer) header(h *payload.Header) {
	fmt.Fprintf(p.out, "Version:   %d\n", h.Version)
	fmt.Fprintf(p.out, "Author:    %s\n", orDash(h.Author))
	fmt.Fprintf(p.out, "Created:   %s\n", h.Created.Local().Format(time.DateTime))
	fmt.Fprintf(p.out, "Protected: %t\n", h.Protected)
	if h.Compressed {
		fmt.Fprintln(p.out, "Deflated:  yes")
	}
	fmt.Fprintf(p.out, "Files:     %d (%s)\n", h.FileCount, humanBytes(h.TotalSize()))
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	for i, name := range h.Names {
		fmt.Fprintf(tw, "  %s\t%s\n", name, humanBytes(h.Sizes[i]))
	}
	_ = tw.Flush()
}

func (p *printer) detection(r *detect.Report) {
	fmt.Fprintf(p.out, "Kind:      %s (%s)\n", r.Kind, r.Format)
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	for _, f := range r.Findings {
		verdict := "clean"
		if f.Detected {
			verdict = fmt.Sprintf("found %.0f%%", f.Confidence*100)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Analyzer, verdict, f.Details)
	}
	_ = tw.Flush()
	if r.Suspicious {
		p.warning("hidden data suspected")
	} else {
		p.success("no hidden data found")
	}
}

func (p *printer) records(records []models.OperationRecord) {
	if len(records) == 0 {
		p.info("history is empty")
		return
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tCARRIER\tFILES\tBYTES\tRESULT\tDURATION")
	for _, r := range records {
		result := r.Result
		if r.Succeeded() {
			result = successColor(result)
		} else {
			result = errorColor(result)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%dms\n",
			r.Timestamp.Local().Format(time.DateTime), r.Operation,
			orDash(strings.TrimSpace(r.CarrierKind+" "+r.CarrierName)),
			r.FileCount, r.PayloadBytes, result, r.DurationMS)
	}
	_ = tw.Flush()
}

// saveFiles writes recovered files into dir. Names are validated again so a
// crafted server response cannot escape dir.
func saveFiles(dir string, files []payload.File) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		name, err := payload.NormalizeName(f.Name)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, name)
		if err := atomicfile.Write(path, f.Content, 0o600); err != nil {
			return paths, fmt.Errorf("save %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// readFiles loads the files to hide. The stored name is the base name.
func readFiles(paths []string) ([]payload.File, error) {
	files := make([]payload.File, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, payload.File{Name: filepath.Base(path), Content: content})
	}
	return files, nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
