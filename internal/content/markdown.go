package content

import (
	"bufio"
	"strings"
)

// Section names requested from generators, in document order.
var SectionNames = []string{
	"Learning Objectives",
	"Key Concepts",
	"Detailed Explanation",
	"Examples",
	"Practice Exercises",
	"Related Topics",
	"Next Steps",
	"Resources",
}

// Section is a level-two heading and its body.
type Section struct {
	Title string
	Body  string
}

// ExtractSections splits markdown into "## " sections. Text before the first
// level-two heading is dropped. Deeper headings stay inside their section.
func ExtractSections(md string) []Section {
	var (
		out     []Section
		current *Section
		body    strings.Builder
	)
	flush := func() {
		if current != nil {
			current.Body = strings.TrimSpace(body.String())
			out = append(out, *current)
		}
		body.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(md))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "## ") {
			flush()
			current = &Section{Title: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			continue
		}
		if current != nil {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return out
}

// FindSection returns the body of the first section titled name (case-insensitive).
func FindSection(md, name string) (string, bool) {
	for _, s := range ExtractSections(md) {
		if strings.EqualFold(s.Title, name) {
			return s.Body, true
		}
	}
	return "", false
}

// MissingSections lists which of SectionNames do not appear in md.
func MissingSections(md string) []string {
	present := make(map[string]bool)
	for _, s := range ExtractSections(md) {
		present[strings.ToLower(s.Title)] = true
	}
	var missing []string
	for _, name := range SectionNames {
		if !present[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	return missing
}
