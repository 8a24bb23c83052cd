package detect

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GophStego/internal/carrier"
	"github.com/atinyakov/GophStego/internal/carrier/trailer"
	"github.com/atinyakov/GophStego/internal/models"
)

// flatPNG has every sample even, so its LSB plane is all zero.
func flatPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
		if i%4 == 3 {
			img.Pix[i] = 0xFF
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func plainGIF(t *testing.T) []byte {
	t.Helper()
	frame := image.NewPaletted(image.Rect(0, 0, 8, 8), palette.Plan9)
	frame.Set(1, 1, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, frame, nil))
	return buf.Bytes()
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func finding(t *testing.T, r *Report, name string) Finding {
	t.Helper()
	for _, f := range r.Findings {
		if f.Analyzer == name {
			return f
		}
	}
	t.Fatalf("no finding from %s", name)
	return Finding{}
}

func TestScan_CleanImage(t *testing.T) {
	report, err := Default().Scan(flatPNG(t, 40, 40))
	require.NoError(t, err)

	assert.Equal(t, "image", report.Kind)
	assert.Equal(t, "png", report.Format)
	assert.False(t, report.Suspicious)
	require.Len(t, report.Findings, 2)
	assert.False(t, finding(t, report, "lsb-header").Detected)
	assert.False(t, finding(t, report, "lsb-entropy").Detected)
}

func TestScan_ImageWithPayload(t *testing.T) {
	hidden := randomBytes(200, 7)
	stego, err := carrier.ImageCodec{}.Embed(flatPNG(t, 40, 40), hidden)
	require.NoError(t, err)

	report, err := Default().Scan(stego)
	require.NoError(t, err)

	assert.True(t, report.Suspicious)
	f := finding(t, report, "lsb-header")
	assert.True(t, f.Detected)
	assert.Equal(t, int64(200), f.PayloadSize)
	assert.Greater(t, f.Confidence, 0.99)
}

func TestScan_HeaderBelowMinimum(t *testing.T) {
	stego, err := carrier.ImageCodec{}.Embed(flatPNG(t, 40, 40), []byte("tiny"))
	require.NoError(t, err)

	report, err := Default().Scan(stego)
	require.NoError(t, err)
	assert.False(t, finding(t, report, "lsb-header").Detected)
}

func TestLSBEntropy(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = byte(i / 4 % 2)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	f, err := LSBEntropy{}.Analyze(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, f.Detected)
	assert.Less(t, f.Confidence, SuspicionThreshold)

	f, err = LSBEntropy{}.Analyze(flatPNG(t, 10, 10))
	require.NoError(t, err)
	assert.False(t, f.Detected)
}

func TestScan_Gif(t *testing.T) {
	clean := plainGIF(t)
	end, err := trailer.StreamEnd(clean)
	require.NoError(t, err)

	withTrailer, err := trailer.Embed(clean, randomBytes(64, 3))
	require.NoError(t, err)

	truncated := withTrailer[:len(withTrailer)-10]
	junk := append(append([]byte(nil), clean[:end]...), "appended by another tool"...)

	cases := []struct {
		name           string
		data           []byte
		wantDetected   bool
		wantSuspicious bool
		wantSize       int64
	}{
		{"clean", clean, false, false, 0},
		{"trailer", withTrailer, true, true, 64},
		{"truncated trailer", truncated, true, true, 0},
		{"unmarked bytes", junk, true, true, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := Default().Scan(tc.data)
			require.NoError(t, err)
			assert.Equal(t, "gif", report.Kind)
			assert.Equal(t, tc.wantSuspicious, report.Suspicious)

			f := finding(t, report, "gif-trailer")
			assert.Equal(t, tc.wantDetected, f.Detected)
			assert.Equal(t, tc.wantSize, f.PayloadSize)
		})
	}
}

func TestScan_Errors(t *testing.T) {
	_, err := Default().Scan([]byte("plain text, not a carrier"))
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	broken := plainGIF(t)[:20]
	_, err = Default().Scan(broken)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

type stubAnalyzer struct {
	finding Finding
	err     error
}

func (stubAnalyzer) Name() string { return "stub" }

func (stubAnalyzer) Description() string { return "stub" }

func (stubAnalyzer) Kinds() []carrier.Kind { return []carrier.Kind{carrier.Gif} }

func (s stubAnalyzer) Analyze([]byte) (Finding, error) { return s.finding, s.err }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.For(carrier.Image))
	assert.Empty(t, r.Kinds())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(stubAnalyzer{})
			_ = r.For(carrier.Gif)
		}()
	}
	wg.Wait()
	assert.Len(t, r.For(carrier.Gif), 8)
	assert.Equal(t, []carrier.Kind{carrier.Gif}, r.Kinds())
	assert.Equal(t, []carrier.Kind{carrier.Image, carrier.Gif}, Default().Kinds())

	// For returns a copy
	got := r.For(carrier.Gif)
	got[0] = nil
	assert.NotNil(t, r.For(carrier.Gif)[0])
}

func TestScan_AnalyzerError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.Register(stubAnalyzer{err: boom})

	_, err := r.Scan(plainGIF(t))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stub")
}

func TestScan_WeakFindingIsNotSuspicious(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAnalyzer{finding: Finding{Detected: true, Confidence: 0.2}})

	report, err := r.Scan(plainGIF(t))
	require.NoError(t, err)
	assert.False(t, report.Suspicious)
	assert.Equal(t, "stub", report.Findings[0].Analyzer)
}
