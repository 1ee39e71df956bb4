// Package report renders collected figures as PNG charts, a Markdown document and its HTML rendition.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Octogonapus/RPMABench/figure"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/Octogonapus/RPMABench/util"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"rsc.io/markdown"
)

// A Report numbers its figures in the order they are rendered.
type Report struct {
	outDir   string
	figures  int
	sections []string
}

func New(outDir string) *Report {
	return &Report{outDir: outDir}
}

// Figures is the number of figures rendered so far.
func (r *Report) Figures() int {
	return r.figures
}

// Render draws a done figure into the next figure_<n>.png and returns its Markdown section, which is also kept for
// Markdown.
func (r *Report) Render(f *figure.Figure) (string, error) {
	if !f.Done {
		return "", fmt.Errorf("figure %s has not collected its results yet", f)
	}
	n := r.figures + 1
	image := fmt.Sprintf("figure_%d.png", n)

	p, err := chart(f)
	if err != nil {
		return "", fmt.Errorf("plotting figure %s failed: %w", f, err)
	}
	err = os.MkdirAll(r.outDir, 0o755)
	if err != nil {
		return "", err
	}
	err = p.Save(8*vg.Inch, 5*vg.Inch, filepath.Join(r.outDir, image))
	if err != nil {
		return "", fmt.Errorf("saving figure %s failed: %w", f, err)
	}

	r.figures = n
	section := section(n, image, f)
	r.sections = append(r.sections, section)
	slog.Debug("rendered figure", slog.String("figure", f.String()), slog.String("image", image))
	return section, nil
}

func chart(f *figure.Figure) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = f.Title
	p.X.Label.Text = f.X
	p.Y.Label.Text = f.Y
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.Padding = 1 * vg.Millimeter
	log := f.XScale == "log"
	if log {
		p.X.Scale = plot.LogScale{}
		p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	lines := []any{}
	for _, s := range f.Results {
		xys := plotter.XYs{}
		for _, pt := range s.Points {
			if log && pt[0] <= 0 {
				continue
			}
			xys = append(xys, plotter.XY{X: pt[0], Y: pt[1]})
		}
		if len(xys) == 0 {
			continue
		}
		label := s.Label
		if label == "" {
			label = f.Y
		}
		lines = append(lines, label, xys)
	}
	if len(lines) == 0 {
		return p, nil
	}
	return p, plotutil.AddLinePoints(p, lines...)
}

func section(n int, image string, f *figure.Figure) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Figure %d. %s\n\n", n, f.Title)
	fmt.Fprintf(&sb, "![%s](%s)\n\n", f.Title, image)
	if caption := Caption(f.CommonParams); caption != "" {
		fmt.Fprintf(&sb, "Common parameters: %s\n\n", caption)
	}
	fmt.Fprintf(&sb, "| series | %s | %s |\n", f.X, f.Y)
	sb.WriteString("|---|---:|---:|\n")
	for _, s := range f.Results {
		for _, pt := range s.Points {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", s.Label, series.Format(pt[0]), series.Format(pt[1]))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// Caption renders the common parameters as sorted name=value pairs.
func Caption(params map[string]any) string {
	keys := []string{}
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+series.Format(params[k]))
	}
	return strings.Join(parts, ", ")
}

// Markdown is the whole document rendered so far.
func (r *Report) Markdown(title string) string {
	return "# " + title + "\n\n" + strings.Join(r.sections, "")
}

// ToHTML renders a Markdown document.
func ToHTML(md string) string {
	p := &markdown.Parser{
		HeadingID:  true,
		Table:      true,
		SmartDash:  true,
	}
	doc := p.Parse(md)
	return markdown.ToHTML(doc)
}

// Write renders every done figure and writes report.md and report.html next to the images. Undone figures are
// skipped.
func (r *Report) Write(title string, figures []*figure.Figure) error {
	for _, f := range figures {
		if !f.Done {
			slog.Warn("figure is not done, leaving it out of the report", slog.String("figure", f.String()))
			continue
		}
		_, err := r.Render(f)
		if err != nil {
			return err
		}
	}
	md := r.Markdown(title)
	err := util.WriteFileAtomic(filepath.Join(r.outDir, "report.md"), []byte(md))
	if err != nil {
		return err
	}
	html := "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>" + title + "</title></head><body>\n" + ToHTML(md) + "</body></html>\n"
	return util.WriteFileAtomic(filepath.Join(r.outDir, "report.html"), []byte(html))
}
