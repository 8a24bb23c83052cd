package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"image"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/GophStego/internal/certgen"
	"github.com/atinyakov/GophStego/internal/envelope"
	"github.com/atinyakov/GophStego/internal/models"
	"github.com/atinyakov/GophStego/internal/payload"
	"github.com/atinyakov/GophStego/internal/repository"
	handler "github.com/atinyakov/GophStego/internal/server/handler/http"
	"github.com/atinyakov/GophStego/internal/service"
)

const testKey = "secret-key-32-bytes-minimum-len!"

func init() {
	color.NoColor = true
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 5)
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

// stego runs the CLI with a private history file and returns stdout and stderr.
func stego(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{
		"-config", filepath.Join(dir, "none.json"),
		"-history", filepath.Join(dir, "history.json"),
		"-iterations", "1000",
	}, args...)
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_LocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover.png")
	writePNG(t, cover, 100, 100)
	a := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("attack at dawn"), 0o600))
	keyFile := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(keyFile, []byte(testKey+"\n"), 0o600))

	_, stderr, err := stego(t, dir, "-cmd", "embed", "-carrier", cover, "-files", a,
		"-author", "alice", "-key-file", keyFile, "-access-password", "door")
	require.NoError(t, err)
	assert.Contains(t, stderr, "hid 1 file(s) in image carrier")
	assert.Contains(t, stderr, "done")
	out := filepath.Join(dir, "cover.stego.png")
	require.FileExists(t, out)

	stdout, _, err := stego(t, dir, "-cmd", "peek", "-carrier", out, "-key", testKey)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Author:    alice")
	assert.Contains(t, stdout, "Protected: true")
	assert.Contains(t, stdout, "a.txt")

	_, _, err = stego(t, dir, "-cmd", "extract", "-carrier", out, "-key", testKey, "-access-password", "wrong")
	assert.ErrorIs(t, err, models.ErrAuthenticationFailed)

	outDir := filepath.Join(dir, "recovered")
	_, stderr, err = stego(t, dir, "-cmd", "extract", "-carrier", out, "-key", testKey,
		"-access-password", "door", "-outdir", outDir)
	require.NoError(t, err)
	assert.Contains(t, stderr, "saved "+filepath.Join(outDir, "a.txt"))
	got, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "attack at dawn", string(got))

	stdout, _, err = stego(t, dir, "-cmd", "history", "-ops", "extract")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], models.ResultSuccess)
	assert.Contains(t, lines[2], models.ResultAuthentication)
}

func TestRun_CompressAndDetect(t *testing.T) {
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover.png")
	writePNG(t, cover, 100, 100)
	notes := filepath.Join(dir, "notes.txt")
	content := strings.Repeat("line of very repetitive notes\n", 300)
	require.NoError(t, os.WriteFile(notes, []byte(content), 0o600))

	stdout, stderr, err := stego(t, dir, "-cmd", "detect", "-carrier", cover)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Kind:      image (png)")
	assert.Contains(t, stdout, "lsb-header")
	assert.Contains(t, stderr, "no hidden data found")

	_, _, err = stego(t, dir, "-cmd", "embed", "-carrier", cover, "-files", notes, "-key", testKey)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)

	_, _, err = stego(t, dir, "-cmd", "embed", "-carrier", cover, "-files", notes, "-key", testKey, "-compress")
	require.NoError(t, err)
	out := filepath.Join(dir, "cover.stego.png")

	stdout, _, err = stego(t, dir, "-cmd", "peek", "-carrier", out, "-key", testKey)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Deflated:  yes")

	stdout, stderr, err = stego(t, dir, "-cmd", "detect", "-carrier", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "found")
	assert.Contains(t, stderr, "hidden data suspected")

	outDir := filepath.Join(dir, "recovered")
	_, _, err = stego(t, dir, "-cmd", "extract", "-carrier", out, "-key", testKey, "-outdir", outDir)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(outDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	stdout, _, err = stego(t, dir, "-cmd", "history", "-ops", "detect")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(stdout), "\n"), 3)
}

func TestRun_Capacity(t *testing.T) {
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover.png")
	writePNG(t, cover, 100, 100)

	stdout, stderr, err := stego(t, dir, "-cmd", "capacity", "-carrier", cover, "-size", "10000")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Kind:      image (png)")
	assert.Contains(t, stdout, "Capacity:  3746 bytes")
	assert.Contains(t, stdout, "Max files: ")
	assert.Contains(t, stdout, "Estimate:  embed")
	assert.Contains(t, stderr, "will not fit")
}

func TestRun_Keygen(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := stego(t, dir, "-cmd", "keygen", "-q")
	require.NoError(t, err)
	key := strings.TrimSpace(stdout)
	assert.NotEmpty(t, key)

	stdout, _, err = stego(t, dir, "-cmd", "history", "-ops", "keygen")
	require.NoError(t, err)
	assert.Contains(t, stdout, "keygen")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover.png")
	writePNG(t, cover, 100, 100)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"missing command", nil, models.ErrInvalidInput},
		{"unknown command", []string{"-cmd", "sing"}, models.ErrInvalidInput},
		{"missing carrier", []string{"-cmd", "peek", "-key", testKey}, models.ErrInvalidInput},
		{"detect without carrier", []string{"-cmd", "detect"}, models.ErrInvalidInput},
		{"missing files", []string{"-cmd", "embed", "-carrier", cover, "-key", testKey}, models.ErrInvalidInput},
		{"short key", []string{"-cmd", "peek", "-carrier", cover, "-key", "short"}, models.ErrInvalidInput},
		{"no hidden data", []string{"-cmd", "extract", "-carrier", cover, "-key", testKey}, models.ErrNoHiddenData},
		{"key and password", []string{"-cmd", "peek", "-carrier", cover, "-key", testKey, "-password", "pw"}, models.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := stego(t, dir, tc.args...)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRun_Version(t *testing.T) {
	stdout, _, err := stego(t, t.TempDir(), "-version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Version: N/A")
}

func TestRun_Remote(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, certgen.WriteDevBundle(dir, []string{"127.0.0.1"}, []string{"bob"}))

	hist := repository.NewJSONHistory(filepath.Join(dir, "server-history.json"), 0)
	svc, err := service.NewStegoService(service.Config{Envelope: envelope.Config{Iterations: 1000}}, hist, zap.NewNop())
	require.NoError(t, err)
	router := handler.NewRouter(&handler.StegoHandler{Stego: svc, MaxUploadBytes: 1 << 20},
		&handler.HistoryHandler{History: hist}, zap.NewNop(), handler.RouterOptions{RequireClientCert: true})

	serverPair, err := tls.LoadX509KeyPair(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"))
	require.NoError(t, err)
	caPEM, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(caPEM))
	srv := httptest.NewUnstartedServer(router)
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{serverPair}, ClientAuth: tls.VerifyClientCertIfGiven, ClientCAs: pool}
	srv.StartTLS()
	defer srv.Close()

	remote := []string{"-url", srv.URL, "-ca", filepath.Join(dir, "ca.crt"),
		"-cert", filepath.Join(dir, "bob.crt"), "-cert-key", filepath.Join(dir, "bob.key")}

	cover := filepath.Join(dir, "cover.png")
	writePNG(t, cover, 60, 60)
	secret := filepath.Join(dir, "s.txt")
	require.NoError(t, os.WriteFile(secret, []byte("remote"), 0o600))
	out := filepath.Join(dir, "out", "stego.png")

	_, _, err = stego(t, dir, append(remote, "-cmd", "embed", "-carrier", cover, "-files", secret,
		"-password", "pw", "-out", out)...)
	require.NoError(t, err)

	outDir := filepath.Join(dir, "recovered")
	_, _, err = stego(t, dir, append(remote, "-cmd", "extract", "-carrier", out, "-password", "pw", "-outdir", outDir)...)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(outDir, "s.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote", string(got))

	stdout, _, err := stego(t, dir, append(remote, "-cmd", "detect", "-carrier", out)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "lsb-header")

	records, err := hist.List(context.Background(), models.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, models.OpDetect, records[0].Operation)
	assert.Equal(t, "bob", records[0].Actor)
}

func TestSaveFiles_RejectsPaths(t *testing.T) {
	dir := t.TempDir()
	_, err := saveFiles(dir, []payload.File{{Name: "../escape", Content: []byte("x")}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape"))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "dir/cover.stego.png", defaultOutput("dir/cover.jpg", ".png"))
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 MiB", humanBytes(2<<20))
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "250ms", estimate(250))
	assert.Equal(t, "1.5s", estimate(1520))
}
