// Package encode turns rendered frames into bytes for clients and storage.
package encode

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"

	"pyro/internal/pkg/errors"
	"pyro/internal/render"
)

type Format string

const (
	Raw Format = "raw"
	PNG Format = "png"
	BMP Format = "bmp"
)

// ParseFormat accepts raw, png and bmp. An empty string selects Raw.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return Raw, nil
	case Raw, PNG, BMP:
		return f, nil
	default:
		return "", errors.ValidationField("format", "format must be one of raw, png, bmp")
	}
}

func (f Format) ContentType() string {
	switch f {
	case PNG:
		return "image/png"
	case BMP:
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// Ext is the file extension used for stored frames.
func (f Format) Ext() string {
	switch f {
	case PNG, BMP:
		return string(f)
	default:
		return "rgba"
	}
}

// Image wraps the frame pixels without copying. Frames hold premultiplied
// RGBA, which is what image.RGBA expects.
func Image(frame render.PixelBuffer) *image.RGBA {
	return &image.RGBA{
		Pix:    frame.Pix,
		Stride: frame.Width * render.BytesPerPixel,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
}

// Encode writes frame to w in format f.
func Encode(w io.Writer, f Format, frame render.PixelBuffer) error {
	if len(frame.Pix) != frame.Resolution().FrameSize() {
		return errors.Newf(errors.CodeInternal, "frame has %d bytes, want %d", len(frame.Pix), frame.Resolution().FrameSize())
	}

	var err error
	switch f {
	case Raw, "":
		_, err = w.Write(frame.Pix)
	case PNG:
		err = png.Encode(w, Image(frame))
	case BMP:
		err = bmp.Encode(w, Image(frame))
	default:
		return errors.ValidationField("format", "unsupported format "+string(f))
	}
	if err != nil {
		return errors.Wrap(err, "encode.Encode", "encode frame").WithField("format", string(f))
	}
	return nil
}

// Bytes encodes frame into memory.
func Bytes(f Format, frame render.PixelBuffer) ([]byte, error) {
	if f == Raw || f == "" {
		return frame.Pix, nil
	}
	var buf bytes.Buffer
	if err := Encode(&buf, f, frame); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
