package diagram

import (
	"context"
	"time"

	"github.com/goccy/go-graphviz"

	"github.com/rendis/promptchain/internal/metrics"
	"github.com/rendis/promptchain/pkg/schema"
)

// Format names an output format.
type Format string

const (
	FormatASCII   Format = "ascii"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
	FormatPNG     Format = "png"
	FormatSVG     Format = "svg"
)

// Formats lists every supported format.
var Formats = []Format{FormatASCII, FormatMermaid, FormatDOT, FormatPNG, FormatSVG}

// ContentType returns the MIME type of a rendered format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatSVG:
		return "image/svg+xml"
	case FormatDOT:
		return "text/vnd.graphviz"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Binary reports whether the format produces non-text output.
func (f Format) Binary() bool {
	return f == FormatPNG
}

// Render dispatches to the renderer for format. Failures are RENDER_ERROR.
func Render(ctx context.Context, model *DiagramModel, format Format) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.RenderDuration.WithLabelValues(string(format)).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	var (
		out []byte
		err error
	)
	switch format {
	case FormatASCII, "":
		out = []byte(RenderASCII(model))
	case FormatMermaid:
		out = []byte(RenderMermaid(model))
	case FormatDOT:
		var s string
		s, err = RenderDOT(model)
		out = []byte(s)
	case FormatPNG:
		out, err = RenderImage(ctx, model, graphviz.PNG)
	case FormatSVG:
		out, err = RenderImage(ctx, model, graphviz.SVG)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeRender, "unknown diagram format %q", format).
			WithDetails(map[string]any{"formats": Formats})
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeRender, err.Error()).WithCause(err)
	}
	return out, nil
}
