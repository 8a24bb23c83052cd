package client_test

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/GophStego/internal/certgen"
	"github.com/atinyakov/GophStego/internal/client"
	"github.com/atinyakov/GophStego/internal/envelope"
	"github.com/atinyakov/GophStego/internal/models"
	"github.com/atinyakov/GophStego/internal/payload"
	"github.com/atinyakov/GophStego/internal/repository"
	handler "github.com/atinyakov/GophStego/internal/server/handler/http"
	"github.com/atinyakov/GophStego/internal/service"
)

const testKey = "secret-key-32-bytes-minimum-len!"

func newRouter(t *testing.T, opts handler.RouterOptions) http.Handler {
	t.Helper()
	hist := repository.NewJSONHistory(filepath.Join(t.TempDir(), "history.json"), 0)
	svc, err := service.NewStegoService(service.Config{Envelope: envelope.Config{Iterations: 1000}}, hist, zap.NewNop())
	require.NoError(t, err)
	return handler.NewRouter(
		&handler.StegoHandler{Stego: svc, MaxUploadBytes: 1 << 20},
		&handler.HistoryHandler{History: hist},
		zap.NewNop(),
		opts,
	)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 13)
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestClient_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(newRouter(t, handler.RouterOptions{}))
	defer srv.Close()

	c := client.New(srv.URL+"/", srv.Client())
	ctx := context.Background()
	cover := client.Upload{Name: "cover.png", Data: testPNG(t, 100, 100)}
	key := envelope.KeyMaterial{Key: []byte(testKey)}

	reply, err := c.Embed(ctx, client.EmbedParams{
		Carrier:        cover,
		Files:          []payload.File{{Name: "a.txt", Content: []byte("hello")}, {Name: "b.bin", Content: []byte{0, 1, 2}}},
		Author:         "alice",
		Key:            key,
		AccessPassword: "open sesame",
	})
	require.NoError(t, err)
	assert.Equal(t, "image", reply.Kind)
	assert.Equal(t, "image/png", reply.ContentType)
	assert.Positive(t, reply.PayloadSize)
	assert.Greater(t, reply.Capacity, reply.PayloadSize)

	stego := client.Upload{Name: "stego.png", Data: reply.Output}

	header, err := c.Peek(ctx, stego, key, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", header.Author)
	assert.True(t, header.Protected)
	assert.Equal(t, []string{"a.txt", "b.bin"}, header.Names)

	out, err := c.Extract(ctx, stego, key, "open sesame")
	require.NoError(t, err)
	require.Len(t, out.Files, 2)
	assert.Equal(t, []byte("hello"), out.Files[0].Content)
	assert.Equal(t, []byte{0, 1, 2}, out.Files[1].Content)

	_, err = c.Extract(ctx, stego, key, "wrong")
	assert.ErrorIs(t, err, models.ErrAuthenticationFailed)

	_, err = c.Extract(ctx, stego, envelope.KeyMaterial{Key: []byte("wrong-key-same-length-xxxxxxxxxx")}, "open sesame")
	assert.ErrorIs(t, err, models.ErrAuthenticationFailed)

	_, err = c.Extract(ctx, cover, key, "")
	assert.ErrorIs(t, err, models.ErrNoHiddenData)

	records, err := c.History(ctx, models.HistoryFilter{Operations: []models.Operation{models.OpExtract}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.ResultNoHiddenData, records[0].Result)
	assert.Equal(t, models.ResultAuthentication, records[1].Result)
}

func TestClient_CapacityAndKeys(t *testing.T) {
	srv := httptest.NewServer(newRouter(t, handler.RouterOptions{}))
	defer srv.Close()
	c := client.New(srv.URL, nil)
	ctx := context.Background()

	report, err := c.Capacity(ctx, client.Upload{Name: "cover.png", Data: testPNG(t, 100, 100)}, 1024)
	require.NoError(t, err)
	require.NotNil(t, report.CapacityReport)
	assert.Equal(t, "image", report.Kind)
	assert.Equal(t, 3746, report.Capacity)
	assert.Positive(t, report.EstimatedEmbedMS)

	_, err = c.Capacity(ctx, client.Upload{Name: "notes.txt", Data: []byte("plain text")}, 0)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	key, err := c.GenerateKey(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, key)
}

func TestClient_CompressAndDetect(t *testing.T) {
	srv := httptest.NewServer(newRouter(t, handler.RouterOptions{}))
	defer srv.Close()
	c := client.New(srv.URL, nil)
	ctx := context.Background()
	cover := client.Upload{Name: "cover.png", Data: testPNG(t, 100, 100)}
	key := envelope.KeyMaterial{Key: []byte(testKey)}

	report, err := c.Detect(ctx, cover)
	require.NoError(t, err)
	assert.Equal(t, "image", report.Kind)
	assert.False(t, report.Suspicious)

	log := bytes.Repeat([]byte("GET /index.html 200\n"), 400)
	reply, err := c.Embed(ctx, client.EmbedParams{
		Carrier:  cover,
		Files:    []payload.File{{Name: "access.log", Content: log}},
		Key:      key,
		Compress: true,
	})
	require.NoError(t, err)
	assert.Less(t, reply.PayloadSize, len(log))
	stego := client.Upload{Name: "stego.png", Data: reply.Output}

	report, err = c.Detect(ctx, stego)
	require.NoError(t, err)
	assert.True(t, report.Suspicious)

	out, err := c.Extract(ctx, stego, key, "")
	require.NoError(t, err)
	assert.True(t, out.Header.Compressed)
	require.Len(t, out.Files, 1)
	assert.Equal(t, log, out.Files[0].Content)

	_, err = c.Detect(ctx, client.Upload{Name: "notes.txt", Data: []byte("plain text")})
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	records, err := c.History(ctx, models.HistoryFilter{Operations: []models.Operation{models.OpDetect}})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.New(srv.URL, nil).GenerateKey(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, models.ResultError, models.Outcome(err))
}

func TestLoadClientCertificate_MutualTLS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, certgen.WriteDevBundle(dir, []string{"127.0.0.1"}, []string{"alice"}))

	serverPair, err := tls.LoadX509KeyPair(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"))
	require.NoError(t, err)
	caPEM, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(caPEM))

	srv := httptest.NewUnstartedServer(newRouter(t, handler.RouterOptions{RequireClientCert: true}))
	srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{serverPair},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    pool,
	}
	srv.StartTLS()
	defer srv.Close()
	ctx := context.Background()

	httpClient, err := client.LoadClientCertificate(filepath.Join(dir, "alice.crt"), filepath.Join(dir, "alice.key"), filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)
	c := client.New(srv.URL, httpClient)

	_, err = c.GenerateKey(ctx)
	require.NoError(t, err)
	records, err := c.History(ctx, models.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].Actor)
	assert.Equal(t, models.OpKeygen, records[0].Operation)

	// Without a client certificate the history is refused.
	anon, err := client.LoadClientCertificate("", "", filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)
	_, err = client.New(srv.URL, anon).History(ctx, models.HistoryFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestLoadClientCertificate_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := client.LoadClientCertificate("", "", filepath.Join(dir, "missing.crt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.crt")
	require.NoError(t, os.WriteFile(bad, pem.EncodeToMemory(&pem.Block{Type: "JUNK", Bytes: []byte("x")}), 0o600))
	_, err = client.LoadClientCertificate("", "", bad)
	assert.EqualError(t, err, "failed to parse CA cert")

	require.NoError(t, certgen.WriteDevBundle(dir, []string{"localhost"}, nil))
	_, err = client.LoadClientCertificate(filepath.Join(dir, "nobody.crt"), filepath.Join(dir, "nobody.key"), filepath.Join(dir, "ca.crt"))
	assert.ErrorContains(t, err, "failed to load client cert/key")
}
