package assessment

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/ashureev/studyforge/internal/domain"
)

// Facts is what the heuristics recovered from a transcript so far.
type Facts struct {
	Subject        string
	Level          domain.ExperienceLevel
	LearningStyle  string
	Goals          string
	TimeConstraint string
}

// Missing lists the required profile fields that are still unknown, in the
// order they should be asked for.
func (f Facts) Missing() []string {
	var missing []string
	if f.Subject == "" {
		missing = append(missing, "subject")
	}
	if f.Level == "" {
		missing = append(missing, "experience_level")
	}
	if f.Goals == "" {
		missing = append(missing, "goals")
	}
	return missing
}

// Profile returns the learner profile once every required field is known.
func (f Facts) Profile() (*domain.LearnerProfile, bool) {
	if len(f.Missing()) > 0 {
		return nil, false
	}
	return &domain.LearnerProfile{
		Subject:         f.Subject,
		ExperienceLevel: f.Level,
		LearningStyle:   f.LearningStyle,
		Goals:           f.Goals,
		TimeConstraint:  f.TimeConstraint,
	}, true
}

var (
	beginnerCues = []string{
		"absolute beginner", "complete beginner", "total beginner", "no experience",
		"inexperienced", "never", "zero knowledge", "starting from scratch", "new to", "beginner",
	}
	intermediateCues = []string{
		"intermediate", "some experience", "familiar", "know basics", "know the basics", "a bit of",
	}
	advancedCues = []string{
		"advanced", "expert", "proficient", "experienced", "mastery", "professionally",
	}

	visualCues   = []string{"visual", "diagram", "chart", "video", "picture", "image"}
	handsOnCues  = []string{"hands-on", "hands on", "practice", "coding", "exercise", "project", "practical", "by doing"}
	theoryCues   = []string{"theory", "theoretical", "concept", "explain", "reading", "understand why"}
	goalCues     = []string{"goal", "want to", "would like to", "i'd like to", "hope to", "aim to", "so that", "so i can", "in order to", "prepare for", "get a job"}
	subjectIntro = regexp.MustCompile(`(?i)\b(?:learn|learning|study|studying|interested in|get into|getting into)\s+(.+)`)
	subjectStops = []string{".", ",", "!", "?", ";", " because", " so ", " to ", " for ", " and ", " with ", " in order", " but "}
	subjectNoise = map[string]bool{"more": true, "about": true, "the": true, "a": true, "an": true, "some": true, "how": true, "to": true, "basic": true}
	hoursPattern = regexp.MustCompile(`(?i)\b\d+\s*(?:hours?|hrs?|h)\b(?:\s*(?:per|a|each|every|/)\s*(?:week|day|month))?`)
)

const maxGoalsLength = 300

// ExtractFacts runs the keyword heuristics over a session's user turns.
// known lists subject names to recognise in free text.
func ExtractFacts(s *domain.AssessmentSession, known []string) Facts {
	msgs := s.UserMessages()

	f := Facts{
		Subject: strings.TrimSpace(s.Subject),
		Goals:   strings.TrimSpace(s.InitialGoals),
	}
	for _, m := range msgs {
		if f.Subject == "" {
			f.Subject = findSubject(m, known)
		}
		if lvl, ok := findLevel(m); ok {
			f.Level = lvl
		}
		if hasAny(strings.ToLower(m), goalCues) {
			f.Goals = truncate(strings.TrimSpace(m), maxGoalsLength)
		}
		if t := hoursPattern.FindString(m); t != "" {
			f.TimeConstraint = t
		}
	}
	f.LearningStyle = learningStyle(strings.ToLower(strings.Join(msgs, " ")))
	return f
}

func findLevel(msg string) (domain.ExperienceLevel, bool) {
	lower := strings.ToLower(msg)
	switch {
	case hasAny(lower, beginnerCues):
		return domain.LevelBeginner, true
	case hasAny(lower, intermediateCues):
		return domain.LevelIntermediate, true
	case hasAny(lower, advancedCues):
		return domain.LevelAdvanced, true
	}
	return "", false
}

func learningStyle(text string) string {
	visual := countAny(text, visualCues)
	handsOn := countAny(text, handsOnCues)
	theory := countAny(text, theoryCues)
	total := visual + handsOn + theory
	if total == 0 {
		return ""
	}
	share := func(n int) float64 { return float64(n) / float64(total) }
	switch {
	case share(handsOn) >= 0.5:
		return "hands_on"
	case share(visual) >= 0.4:
		return "visual"
	case share(theory) >= 0.4:
		return "theoretical"
	}
	return "mixed"
}

// findSubject prefers the longest known subject named in msg, then falls back
// to the phrase after "learn", "study" or "interested in".
func findSubject(msg string, known []string) string {
	sorted := append([]string(nil), known...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, name := range sorted {
		if mentions(msg, name) {
			return name
		}
	}

	m := subjectIntro.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	phrase := " " + m[1] + " "
	cut := len(phrase)
	for _, stop := range subjectStops {
		if i := strings.Index(phrase[1:], stop); i >= 0 && i+1 < cut {
			cut = i + 1
		}
	}
	words := strings.Fields(phrase[:cut])
	for len(words) > 0 && subjectNoise[strings.ToLower(words[0])] {
		words = words[1:]
	}
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.TrimFunc(strings.Join(words, " "), unicode.IsPunct)
}

// mentions reports whether name appears in msg as whole words. Names of two
// letters or fewer ("Go", "ml") must match case exactly or in upper case, so
// ordinary words such as "go" are not mistaken for subjects.
func mentions(msg, name string) bool {
	if name == "" {
		return false
	}
	hay, needle := msg, name
	if len(name) > 2 {
		hay, needle = strings.ToLower(msg), strings.ToLower(name)
	} else if !containsWord(hay, needle) {
		needle = strings.ToUpper(name)
	}
	return containsWord(hay, needle)
}

func containsWord(hay, needle string) bool {
	for from := 0; ; {
		i := strings.Index(hay[from:], needle)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(needle)
		if boundary(hay, start-1) && boundary(hay, end) {
			return true
		}
		from = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := rune(s[i])
	return !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '+' && c != '#'
}

func hasAny(text string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(text, c) {
			return true
		}
	}
	return false
}

func countAny(text string, cues []string) int {
	n := 0
	for _, c := range cues {
		if strings.Contains(text, c) {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
