package annotator

import (
	"fmt"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/floatnote/annotation"
)

// Exporter renders annotation records as markdown.
type Exporter struct {
	md *converter.Converter
}

// NewExporter creates an Exporter.
func NewExporter() *Exporter {
	return &Exporter{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown renders recs grouped by page URL. Highlights become block quotes,
// notes are converted from their HTML.
func (x *Exporter) Markdown(recs []*annotation.Annotation) (string, error) {
	var urls []string
	byURL := make(map[string][]*annotation.Annotation)
	for _, r := range recs {
		if _, ok := byURL[r.URL]; !ok {
			urls = append(urls, r.URL)
		}
		byURL[r.URL] = append(byURL[r.URL], r)
	}

	var b strings.Builder
	for i, url := range urls {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "# %s\n", url)

		highlights := annotation.Filter(byURL[url], annotation.KindHighlight)
		if len(highlights) > 0 {
			b.WriteString("\n## Highlights\n")
			for _, h := range highlights {
				b.WriteString("\n")
				for _, line := range strings.Split(h.Highlight.Text, "\n") {
					fmt.Fprintf(&b, "> %s\n", line)
				}
				fmt.Fprintf(&b, "\n_%s · %s_\n", h.Highlight.Color, stamp(h.CreatedAt))
			}
		}

		notes := annotation.Filter(byURL[url], annotation.KindNote)
		if len(notes) > 0 {
			b.WriteString("\n## Notes\n")
			for _, n := range notes {
				body, err := x.md.ConvertString(n.Note.HTML, converter.WithDomain(url))
				if err != nil {
					return "", fmt.Errorf("annotator: export note %s: %w", n.ID, err)
				}
				body = strings.TrimSpace(body)
				if body == "" {
					body = "_(empty note)_"
				}
				fmt.Fprintf(&b, "\n### %s\n\n%s\n", stamp(n.CreatedAt), body)
			}
		}
	}
	return b.String(), nil
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
