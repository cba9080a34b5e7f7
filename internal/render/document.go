package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/framecast/internal/plan"
)

const googleFontsURL = "https://fonts.googleapis.com/css2"

var fontFileExts = map[string]string{
	".woff2": "woff2",
	".woff":  "woff",
	".ttf":   "truetype",
	".otf":   "opentype",
}

// BuildDocument wraps one frame's markup into the full page a capture backend
// loads: a viewport sized body, font loading, inline CSS (in plan order) and
// stylesheet links.
func BuildDocument(p *plan.RenderPlan, markup string) (string, error) {
	var buf bytes.Buffer
	if err := Document(p, markup).Render(context.Background(), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Document is the frame page as a templ component.
func Document(p *plan.RenderPlan, markup string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!DOCTYPE html><html><head><meta charset=\"utf-8\">"); err != nil {
			return err
		}

		families, faces := splitFonts(p.Fonts)
		if len(families) > 0 {
			if _, err := fmt.Fprintf(w, `<link rel="stylesheet" href="%s">`, templ.EscapeString(googleFontsHref(families))); err != nil {
				return err
			}
		}
		for _, href := range p.Stylesheets {
			if _, err := fmt.Fprintf(w, `<link rel="stylesheet" href="%s">`, templ.EscapeString(href)); err != nil {
				return err
			}
		}

		if _, err := io.WriteString(w, "<style>"+baseCSS(p)+faces+"</style>"); err != nil {
			return err
		}
		for _, css := range p.InlineCSS {
			if _, err := io.WriteString(w, "<style>"+sanitizeStyle(css)+"</style>"); err != nil {
				return err
			}
		}

		if _, err := io.WriteString(w, `</head><body><div id="framecast-root">`); err != nil {
			return err
		}
		if err := templ.Raw(markup).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</div></body></html>")
		return err
	})
}

func baseCSS(p *plan.RenderPlan) string {
	background := "#fff"
	if p.Encoding.Video.Alpha {
		background = "transparent"
	}
	return fmt.Sprintf(
		"html,body{margin:0;padding:0;width:%dpx;height:%dpx;overflow:hidden;background:%s}"+
			"#framecast-root{position:relative;width:%dpx;height:%dpx;overflow:hidden}",
		p.Width, p.Height, background, p.Width, p.Height)
}

// splitFonts separates bare family names, loaded from Google Fonts, from font
// files, which become @font-face rules named after the file.
func splitFonts(fonts []string) ([]string, string) {
	var families []string
	var faces strings.Builder
	for _, f := range fonts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		format, isFile := fontFileExts[strings.ToLower(path.Ext(stripQuery(f)))]
		if !isFile {
			families = append(families, f)
			continue
		}
		name := strings.TrimSuffix(path.Base(stripQuery(f)), path.Ext(stripQuery(f)))
		fmt.Fprintf(&faces, `@font-face{font-family:"%s";src:url("%s") format("%s");font-display:block}`,
			cssString(name), cssString(f), format)
	}
	return families, faces.String()
}

func googleFontsHref(families []string) string {
	q := url.Values{}
	for _, fam := range families {
		q.Add("family", fam)
	}
	q.Set("display", "block")
	return googleFontsURL + "?" + q.Encode()
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

func cssString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", "").Replace(s)
}

// sanitizeStyle keeps a CSS block from closing its <style> element.
func sanitizeStyle(css string) string {
	return strings.ReplaceAll(css, "</", `<\/`)
}
