package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"image/jpeg"
	"strings"

	"github.com/fogleman/gg"
	"github.com/go-pdf/fpdf"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// Rendered holds the encoded artifacts of one certificate.
type Rendered struct {
	JPG []byte
	PDF []byte
}

// Renderer produces certificate artifacts.
type Renderer interface {
	Render(ctx context.Context, c *models.Certificate) (*Rendered, error)
}

// Canvas size in pixels, A4 landscape at roughly 136 dpi.
const (
	canvasWidth  = 1600
	canvasHeight = 1131
	jpegQuality  = 90
)

var (
	inkColor    = color.NRGBA{R: 0x1f, G: 0x2a, B: 0x44, A: 0xff}
	accentColor = color.NRGBA{R: 0xb8, G: 0x86, B: 0x0b, A: 0xff}
	paperColor  = color.NRGBA{R: 0xfd, G: 0xfb, B: 0xf6, A: 0xff}
	revokedInk  = color.NRGBA{R: 0xc0, G: 0x1c, B: 0x28, A: 0xc0}
)

// DefaultRenderer draws a plain certificate with the Go fonts and wraps
// the image in a single-page PDF.
type DefaultRenderer struct {
	verifyBaseURL string

	title   font.Face
	heading font.Face
	body    font.Face
	small   font.Face
}

// NewDefaultRenderer prepares font faces. verifyBaseURL is printed on the
// certificate followed by /verify/<certificate_id>.
func NewDefaultRenderer(verifyBaseURL string) (*DefaultRenderer, error) {
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}

	return &DefaultRenderer{
		verifyBaseURL: strings.TrimRight(verifyBaseURL, "/"),
		title:         truetype.NewFace(bold, &truetype.Options{Size: 64}),
		heading:       truetype.NewFace(bold, &truetype.Options{Size: 52}),
		body:          truetype.NewFace(regular, &truetype.Options{Size: 30}),
		small:         truetype.NewFace(regular, &truetype.Options{Size: 20}),
	}, nil
}

func (r *DefaultRenderer) Render(ctx context.Context, c *models.Certificate) (*Rendered, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jpg, err := r.renderJPEG(c)
	if err != nil {
		return nil, err
	}
	pdf, err := wrapPDF(c.CertificateID, jpg)
	if err != nil {
		return nil, err
	}
	return &Rendered{JPG: jpg, PDF: pdf}, nil
}

func (r *DefaultRenderer) renderJPEG(c *models.Certificate) ([]byte, error) {
	const w, h = float64(canvasWidth), float64(canvasHeight)
	dc := gg.NewContext(canvasWidth, canvasHeight)

	dc.SetColor(paperColor)
	dc.Clear()

	dc.SetColor(accentColor)
	dc.SetLineWidth(12)
	dc.DrawRectangle(40, 40, w-80, h-80)
	dc.Stroke()
	dc.SetLineWidth(2)
	dc.DrawRectangle(64, 64, w-128, h-128)
	dc.Stroke()

	dc.SetColor(inkColor)
	dc.SetFontFace(r.title)
	dc.DrawStringAnchored("Certificate of Completion", w/2, 230, 0.5, 0.5)

	dc.SetFontFace(r.body)
	dc.DrawStringAnchored("This certifies that", w/2, 360, 0.5, 0.5)

	dc.SetFontFace(r.heading)
	dc.DrawStringAnchored(c.StudentName, w/2, 450, 0.5, 0.5)

	dc.SetFontFace(r.body)
	dc.DrawStringAnchored("has successfully completed", w/2, 540, 0.5, 0.5)
	dc.DrawStringWrapped(c.CourseTitle, w/2, 620, 0.5, 0.5, w-400, 1.4, gg.AlignCenter)
	dc.DrawStringAnchored("Completed on "+c.CompletedAt.UTC().Format("January 2, 2006"), w/2, 740, 0.5, 0.5)

	dc.SetFontFace(r.small)
	dc.DrawStringAnchored("Certificate ID: "+c.CertificateID, w/2, h-200, 0.5, 0.5)
	if r.verifyBaseURL != "" {
		dc.DrawStringAnchored("Verify at "+r.verifyBaseURL+"/verify/"+c.CertificateID, w/2, h-160, 0.5, 0.5)
	}

	if c.Status == models.StatusRevoked {
		dc.Push()
		dc.SetColor(revokedInk)
		dc.SetFontFace(r.title)
		dc.RotateAbout(gg.Radians(-20), w/2, h/2)
		dc.DrawStringAnchored("REVOKED", w/2, h/2, 0.5, 0.5)
		dc.Pop()
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// wrapPDF places the JPEG on a full A4 landscape page.
func wrapPDF(name string, jpg []byte) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Certificate "+name, true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "JPG"}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(jpg))
	pageW, pageH := pdf.GetPageSize()
	pdf.ImageOptions(name, 0, 0, pageW, pageH, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
