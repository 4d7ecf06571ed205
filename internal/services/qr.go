package services

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"strconv"
	"strings"

	"cleartitle/internal/apperr"

	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

type QRFormat string

const (
	QRFormatPNG QRFormat = "png"
	QRFormatSVG QRFormat = "svg"
)

type QROptions struct {
	Content string
	Size    int
	Format  QRFormat
	FgColor string
	BgColor string
}

// QRCode is an encoded QR image with its content type.
type QRCode struct {
	ContentType string
	Data        []byte
}

// QRService renders share codes for listing pages.
type QRService struct{}

func NewQRService() *QRService {
	return &QRService{}
}

func (s *QRService) Generate(opts QROptions) (QRCode, error) {
	if opts.Size == 0 {
		opts.Size = defaultQRSize
	}
	if opts.Size < minQRSize || opts.Size > maxQRSize {
		return QRCode{}, apperr.Validation("size must be between %d and %d", minQRSize, maxQRSize)
	}

	qr, err := qrcode.New(opts.Content, qrcode.Medium)
	if err != nil {
		return QRCode{}, fmt.Errorf("encode qr: %w", err)
	}

	fg := parseHexColor(opts.FgColor, color.Black)
	bg := parseHexColor(opts.BgColor, color.White)

	if opts.Format == QRFormatSVG {
		return QRCode{ContentType: "image/svg+xml", Data: []byte(renderSVG(qr, fg, bg))}, nil
	}

	qr.ForegroundColor = fg
	qr.BackgroundColor = bg
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(opts.Size)); err != nil {
		return QRCode{}, fmt.Errorf("encode png: %w", err)
	}
	return QRCode{ContentType: "image/png", Data: buf.Bytes()}, nil
}

func renderSVG(qr *qrcode.QRCode, fg, bg color.Color) string {
	qr.DisableBorder = true
	bitmap := qr.Bitmap()
	n := len(bitmap)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" shape-rendering="crispEdges">`, n, n)
	fmt.Fprintf(&sb, `<rect width="100%%" height="100%%" fill="%s"/>`, hexColor(bg))
	fmt.Fprintf(&sb, `<path fill="%s" d="`, hexColor(fg))
	for y, row := range bitmap {
		for x, on := range row {
			if on {
				fmt.Fprintf(&sb, "M%d %dh1v1h-1z", x, y)
			}
		}
	}
	sb.WriteString(`"/></svg>`)
	return sb.String()
}

func parseHexColor(s string, def color.Color) color.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return def
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return def
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

func hexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}
