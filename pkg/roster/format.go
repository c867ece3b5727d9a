package roster

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxDescriptionLen is Discord's embed description limit, in characters.
const MaxDescriptionLen = 4096

// EmptyBody is shown when no member qualifies.
const EmptyBody = "_No members found._"

// Content is a formatted roster ready for a message or embed.
type Content struct {
	Title string
	Body  string
	// Omitted counts lines dropped to fit MaxDescriptionLen.
	Omitted int
}

// Text renders the content as a plain message.
func (c Content) Text() string {
	return "**" + c.Title + ":**\n" + c.Body
}

// Title returns the heading for a team role's roster.
func Title(roleName string) string {
	return roleName + " Members (sorted by rank)"
}

// FormatLine renders one row, e.g. "`1.` **Ana** (Captain) · Lane: Top".
func FormatLine(l Line) string {
	var b strings.Builder
	fmt.Fprintf(&b, "`%d.` **%s** (%s)", l.Index, escapeMarkdown(l.DisplayName), l.RankLabel)
	if l.Annotation != "" {
		b.WriteString(" · ")
		b.WriteString(l.Annotation)
	}
	return b.String()
}

// Format lays out r under roleName, cutting lines that do not fit maxLen characters
// and replacing them with an "…and N more" trailer. maxLen <= 0 means MaxDescriptionLen.
func Format(roleName string, r Roster, maxLen int) Content {
	if maxLen <= 0 {
		maxLen = MaxDescriptionLen
	}
	c := Content{Title: Title(roleName)}
	if r.Len() == 0 {
		c.Body = EmptyBody
		return c
	}

	rows := make([]string, 0, r.Len())
	for _, l := range r.All() {
		rows = append(rows, FormatLine(l))
	}

	used := 0
	kept := 0
	for i, row := range rows {
		n := utf8.RuneCountInString(row)
		if kept > 0 {
			n++ // newline
		}
		remaining := len(rows) - i - 1
		budget := maxLen
		if remaining > 0 {
			budget -= utf8.RuneCountInString(moreTrailer(remaining)) + 1
		}
		if used+n > budget {
			break
		}
		used += n
		kept++
	}

	c.Body = strings.Join(rows[:kept], "\n")
	if kept < len(rows) {
		c.Omitted = len(rows) - kept
		if kept > 0 {
			c.Body += "\n"
		}
		c.Body += moreTrailer(c.Omitted)
	}
	return c
}

func moreTrailer(n int) string {
	return fmt.Sprintf("…and %d more", n)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"~", `\~`,
	"|", `\|`,
)

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
