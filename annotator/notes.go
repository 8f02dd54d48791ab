package annotator

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// Note content keeps the formatting the editor toolbar produces.
	noteContent = func() *bluemonday.Policy {
		p := bluemonday.UGCPolicy()
		p.AllowStyling()
		p.AllowStyles(
			"color", "background-color",
			"font-family", "font-size", "font-weight", "font-style",
			"text-decoration", "text-align",
		).Globally()
		p.AllowElements("span", "font", "u", "s", "strike", "mark")
		p.AllowAttrs("color", "face", "size").OnElements("font")
		return p
	}()

	plainText = bluemonday.StrictPolicy()
)

// SanitizeNoteHTML strips scripts, handlers and unknown markup from note
// content.
func SanitizeNoteHTML(s string) string {
	return noteContent.Sanitize(s)
}

// NotePreview returns the first limit runes of the note's visible text, with
// whitespace collapsed. Markup is dropped by a strict bluemonday policy, so
// script and style bodies never reach the preview.
func NotePreview(s string, limit int) string {
	text := html.UnescapeString(plainText.Sanitize(blockBreaks.Replace(s)))
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

// Block boundaries become spaces so adjacent paragraphs do not glue.
var blockBreaks = strings.NewReplacer(
	"</p>", " </p>",
	"</div>", " </div>",
	"<br>", " <br>",
	"<br/>", " <br/>",
	"<br />", " <br />",
	"</li>", " </li>",
)
