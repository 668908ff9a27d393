// Package preview renders a read-only glimpse of a found file: a thumbnail
// for images, the first characters for text.
package preview

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

const (
	// ThumbSize bounds both thumbnail dimensions
	ThumbSize = 220
	// TextChars is how many characters a text preview shows
	TextChars = 500

	// maxPixels guards against decoding huge images into memory
	maxPixels = 64 << 20
)

// Kind is the type of preview produced
type Kind string

const (
	KindImage       Kind = "image"
	KindText        Kind = "text"
	KindUnsupported Kind = "unsupported"
	KindFailed      Kind = "failed"
)

// User-facing messages
const (
	MsgImageFailed = "Image preview failed"
	MsgTextFailed  = "Text preview failed"
	MsgUnsupported = "Preview not supported"
	MsgFailed      = "Preview failed"
)

// Preview is the rendered result. Exactly one of DataURI or Text is set for
// image and text kinds; Message is set otherwise.
type Preview struct {
	Kind    Kind   `json:"kind"`
	MIME    string `json:"mime,omitempty"`
	DataURI string `json:"data_uri,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

var imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/bmp"}

// Render inspects the file content and builds a preview. It never returns an
// error; failures are reported through Kind and Message.
func Render(path string) Preview {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Preview{Kind: KindFailed, Message: MsgFailed}
	}

	switch {
	case mimetype.EqualsAny(mt.String(), imageTypes...):
		p, err := renderImage(path)
		if err != nil {
			return Preview{Kind: KindFailed, MIME: mt.String(), Message: MsgImageFailed}
		}
		p.MIME = mt.String()
		return p
	case isText(mt):
		text, err := readText(path, TextChars)
		if err != nil {
			return Preview{Kind: KindFailed, MIME: mt.String(), Message: MsgTextFailed}
		}
		return Preview{Kind: KindText, MIME: mt.String(), Text: text}
	default:
		return Preview{Kind: KindUnsupported, MIME: mt.String(), Message: MsgUnsupported}
	}
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func renderImage(path string) (Preview, error) {
	f, err := os.Open(path)
	if err != nil {
		return Preview{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Preview{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return Preview{}, image.ErrFormat
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Preview{}, err
	}

	src, _, err := image.Decode(f)
	if err != nil {
		return Preview{}, err
	}

	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), ThumbSize)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return Preview{}, err
	}
	return Preview{
		Kind:    KindImage,
		DataURI: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:   w,
		Height:  h,
	}, nil
}

// fit scales w x h down to fit a max x max box, keeping the aspect ratio.
// Images already inside the box keep their size.
func fit(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

// readText returns up to n characters from the start of the file. Invalid
// UTF-8 is replaced rather than rejected.
func readText(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, n*utf8.UTFMax)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	truncated := read == len(buf)
	buf = buf[:read]

	var sb strings.Builder
	for count := 0; len(buf) > 0 && count < n; count++ {
		// A rune cut off at the end of the read window
		if truncated && !utf8.FullRune(buf) {
			break
		}
		r, size := utf8.DecodeRune(buf)
		sb.WriteRune(r)
		buf = buf[size:]
	}
	return sb.String(), nil
}
