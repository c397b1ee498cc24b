package profile

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// Section headers with special handling.
const (
	TasksHeader  = "### 9. TASKS"
	IkigaiHeader = "### 16. IKIGAI BLUEPRINT"
	ShadowHeader = "### 17. SHADOW ARCHETYPE"
)

// sectionPrefix starts every section header line.
const sectionPrefix = "### "

//go:embed template.md
var defaultTemplate string

// DefaultTemplate returns the built-in onboarding profile template.
func DefaultTemplate() string {
	return defaultTemplate
}

// Rule maps an onboarding question to the profile section its answer belongs in.
type Rule struct {
	Match  string // case-insensitive substring of the question text
	Header string
	Label  string
}

// DefaultRules cover the bundled greeting question bank.
var DefaultRules = []Rule{
	{Match: "how old", Header: "### 1. IDENTITY", Label: "Age"},
	{Match: "field of work", Header: "### 4. OCCUPATION", Label: "Field"},
	{Match: "communication style", Header: "### 2. COMMUNICATION STYLE", Label: "Communication style"},
	{Match: "priority", Header: "### 5. GOALS AND MOTIVATION", Label: "Priority"},
	{Match: "make decisions", Header: "### 7. COGNITIVE PROFILE", Label: "Decision making"},
	{Match: "value in people", Header: "### 6. CORE VALUES", Label: "Values"},
	{Match: "free time", Header: "### 10. ADDITIONAL CONTEXT", Label: "Leisure"},
	{Match: "format", Header: "### 7. COGNITIVE PROFILE", Label: "Information format"},
	{Match: "something new", Header: "### 3. PERSONALITY TRAITS", Label: "Attitude to novelty"},
	{Match: "role", Header: "### 10. ADDITIONAL CONTEXT", Label: "Assistant role"},
}

// BuildInitialProfile fills template with onboarding answers. Each answer is
// inserted as "* **Label**: answer" right below the header of the first
// matching rule; answers with no matching rule or header are skipped.
func BuildInitialProfile(template string, interactions []models.Interaction, rules []Rule) string {
	doc := template
	for _, it := range interactions {
		rule, ok := matchRule(it.Question, rules)
		if !ok {
			continue
		}
		idx := headerLineEnd(doc, rule.Header)
		if idx < 0 {
			continue
		}
		line := fmt.Sprintf("\n* **%s**: %s", rule.Label, strings.TrimSpace(it.Answer))
		doc = doc[:idx] + line + doc[idx:]
	}
	return doc
}

func matchRule(question string, rules []Rule) (Rule, bool) {
	q := strings.ToLower(question)
	for _, r := range rules {
		if strings.Contains(q, strings.ToLower(r.Match)) {
			return r, true
		}
	}
	return Rule{}, false
}

// headerLineEnd returns the index just past the header line text (before its
// newline), or -1 when the header is absent.
func headerLineEnd(doc, header string) int {
	start := findHeader(doc, header)
	if start < 0 {
		return -1
	}
	end := strings.IndexByte(doc[start:], '\n')
	if end < 0 {
		return len(doc)
	}
	return start + end
}

// findHeader locates header at the start of a line.
func findHeader(doc, header string) int {
	offset := 0
	for {
		i := strings.Index(doc[offset:], header)
		if i < 0 {
			return -1
		}
		pos := offset + i
		if pos == 0 || doc[pos-1] == '\n' {
			return pos
		}
		offset = pos + len(header)
	}
}

// sectionBounds returns the body range of the section introduced by header:
// from the end of the header line to the next "### " header or end of document.
func sectionBounds(doc, header string) (start, end int, ok bool) {
	h := findHeader(doc, header)
	if h < 0 {
		return 0, 0, false
	}
	start = h + len(header)
	if nl := strings.IndexByte(doc[start:], '\n'); nl >= 0 {
		start += nl + 1
	} else {
		start = len(doc)
	}
	end = len(doc)
	if next := strings.Index(doc[start:], "\n"+sectionPrefix); next >= 0 {
		end = start + next + 1
	} else if strings.HasPrefix(doc[start:], sectionPrefix) {
		end = start
	}
	return start, end, true
}

// ExtractSection returns the trimmed body of the section, or "" if it is missing or empty.
func ExtractSection(doc, header string) string {
	start, end, ok := sectionBounds(doc, header)
	if !ok {
		return ""
	}
	return strings.TrimSpace(doc[start:end])
}

// ReplaceSection replaces the body of the section with body. A missing
// section is appended to the end of the document.
func ReplaceSection(doc, header, body string) string {
	body = strings.TrimSpace(body)
	start, end, ok := sectionBounds(doc, header)
	if !ok {
		doc = strings.TrimRight(doc, "\n")
		if doc != "" {
			doc += "\n\n"
		}
		return doc + header + "\n" + body + "\n"
	}
	head, tail := doc[:start], doc[end:]
	if !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	replacement := body + "\n"
	if tail != "" {
		replacement += "\n"
	}
	return head + replacement + tail
}
