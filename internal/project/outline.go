package project

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/azyu/storyloom/internal/consistency"
	"github.com/azyu/storyloom/pkg/types"
)

// OutlineFile is the project-relative path of the chapter outline.
const OutlineFile = "outline.md"

var (
	latinChapterHeading = regexp.MustCompile(`(?i)^chapter\s+(\d{1,4})\s*(?:[:：.\-–—]\s*)?(.*)$`)
	hanChapterHeading   = regexp.MustCompile(`^第\s*([0-9]{1,4}|[零一二两三四五六七八九十百]{1,6})\s*章\s*(?:[:：]\s*)?(.*)$`)
	charactersLine      = regexp.MustCompile(`(?i)^(?:[-*]\s*)?(?:characters|cast|人物|角色)\s*[:：]\s*(.+)$`)
)

var markdown = goldmark.New()

// ParseOutline reads chapter entries from outline markdown. Any heading of
// the form "Chapter N: Title" or "第N章 Title" starts an entry; the blocks
// that follow, up to the next chapter heading, form its plan. A line
// "Characters: A, B" lists the chapter's cast instead of joining the plan.
func ParseOutline(source []byte) map[int]types.OutlineEntry {
	doc := markdown.Parser().Parse(text.NewReader(source))

	entries := make(map[int]types.OutlineEntry)
	var cur *types.OutlineEntry
	var plan []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Plan = strings.TrimSpace(strings.Join(plan, "\n"))
		entries[cur.Number] = *cur
		cur, plan = nil, nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			if number, title, ok := parseChapterHeading(string(h.Text(source))); ok {
				flush()
				cur = &types.OutlineEntry{Number: number, Title: title}
				continue
			}
		}
		if cur == nil {
			continue
		}

		for _, line := range strings.Split(blockText(n, source), "\n") {
			if m := charactersLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				cur.Characters = append(cur.Characters, splitNames(m[1])...)
				continue
			}
			plan = append(plan, line)
		}
	}
	flush()

	return entries
}

func parseChapterHeading(heading string) (int, string, bool) {
	heading = strings.TrimSpace(heading)
	if m := latinChapterHeading.FindStringSubmatch(heading); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return 0, "", false
		}
		return n, strings.TrimSpace(m[2]), true
	}
	if m := hanChapterHeading.FindStringSubmatch(heading); m != nil {
		n, ok := consistency.ParseHanNumber(m[1])
		if !ok {
			return 0, "", false
		}
		return n, strings.TrimSpace(m[2]), true
	}
	return 0, "", false
}

// blockText returns the raw source lines of a block, descending into
// containers such as lists and block quotes.
func blockText(n ast.Node, source []byte) string {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		var b strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
			if !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte('\n')
			}
		}
		return strings.TrimRight(b.String(), "\n")
	}

	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := blockText(c, source); t != "" {
			if _, ok := n.(*ast.ListItem); ok && len(parts) == 0 {
				t = "- " + t
			}
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func splitNames(s string) []string {
	var names []string
	for _, name := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || r == ';'
	}) {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
