// Package lsb hides a byte stream in the least significant bits of the red,
// green and blue samples of an 8-bit image.
//
// The stream is a 32-bit big-endian length header followed by the data,
// written most significant bit first. Slots are visited row by row, pixel by
// pixel, and R, G, B within a pixel. Alpha is never touched.
package lsb

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"github.com/atinyakov/GophStego/internal/models"
)

const (
	// HeaderBits is the width of the length header.
	HeaderBits = 32
	// Channels is the number of samples per pixel that carry data.
	Channels = 3
)

// Capacity returns how many data bytes fit in a width×height image using
// channels samples per pixel, after the length header.
func Capacity(width, height, channels int) int {
	bits := width*height*channels - HeaderBits
	if bits < 0 {
		return 0
	}
	return bits / 8
}

// CapacityOf returns Capacity for img.
func CapacityOf(img *image.NRGBA) int {
	b := img.Bounds()
	return Capacity(b.Dx(), b.Dy(), Channels)
}

// Embed writes data into img. The capacity check happens before any sample is
// modified, so a failed Embed leaves img untouched.
func Embed(img *image.NRGBA, data []byte) error {
	if c := CapacityOf(img); len(data) > c {
		return fmt.Errorf("%w: %d bytes requested, image holds %d", models.ErrCapacityExceeded, len(data), c)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))

	w := newWalker(img)
	w.write(header[:])
	w.write(data)
	return nil
}

// Extract reads the length header and then exactly that many bytes.
// A zero length, or one larger than the image can hold, means the image
// carries no payload written by Embed.
func Extract(img *image.NRGBA) ([]byte, error) {
	n, err := Length(img)
	if err != nil {
		return nil, err
	}
	if n == 0 || uint64(n) > uint64(CapacityOf(img)) {
		return nil, fmt.Errorf("%w: length header %d out of range", models.ErrNoHiddenData, n)
	}
	w := newWalker(img)
	w.slot = HeaderBits
	return w.read(int(n)), nil
}

// Length reads only the length header. Any image large enough to hold one
// yields a value; whether it is plausible is up to the caller.
func Length(img *image.NRGBA) (uint32, error) {
	b := img.Bounds()
	if b.Dx()*b.Dy()*Channels < HeaderBits {
		return 0, fmt.Errorf("%w: image too small for a length header", models.ErrNoHiddenData)
	}
	return binary.BigEndian.Uint32(newWalker(img).read(4)), nil
}

// Ones counts the set low bits over the first slots data slots and returns
// the count together with the number of slots visited.
func Ones(img *image.NRGBA, slots int) (ones, visited int) {
	b := img.Bounds()
	if total := b.Dx() * b.Dy() * Channels; slots <= 0 || slots > total {
		slots = total
	}
	w := newWalker(img)
	for ; w.slot < slots; w.slot++ {
		ones += int(w.img.Pix[w.offset()] & 1)
	}
	return ones, slots
}

// ToNRGBA returns a copy of src as an 8-bit non-premultiplied image anchored
// at the origin. NRGBA sources are copied sample for sample so that low bits
// of translucent pixels survive.
func ToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if n, ok := src.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			from := n.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], n.Pix[from:from+b.Dx()*4])
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dst.SetNRGBA(x, y, c)
		}
	}
	return dst
}

// walker visits LSB slots in scan order.
type walker struct {
	img  *image.NRGBA
	w    int
	slot int
}

func newWalker(img *image.NRGBA) *walker {
	return &walker{img: img, w: img.Bounds().Dx()}
}

func (w *walker) offset() int {
	p := w.slot / Channels
	x, y := p%w.w, p/w.w
	b := w.img.Bounds()
	return w.img.PixOffset(b.Min.X+x, b.Min.Y+y) + w.slot%Channels
}

func (w *walker) write(data []byte) {
	for _, v := range data {
		for bit := 7; bit >= 0; bit-- {
			i := w.offset()
			w.img.Pix[i] = w.img.Pix[i]&^1 | (v>>uint(bit))&1
			w.slot++
		}
	}
}

func (w *walker) read(n int) []byte {
	out := make([]byte, n)
	for k := range out {
		var v byte
		for bit := 0; bit < 8; bit++ {
			v = v<<1 | w.img.Pix[w.offset()]&1
			w.slot++
		}
		out[k] = v
	}
	return out
}
