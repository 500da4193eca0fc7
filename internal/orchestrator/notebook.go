package orchestrator

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ashureev/studyforge/internal/domain"
)

// RenderReadme produces the notebook's top-level README.md.
func RenderReadme(plan *domain.CurriculumPlan, job *domain.Job) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s Notebook\n\n", plan.Subject)

	p := plan.Profile
	b.WriteString("## Learner Profile\n\n")
	fmt.Fprintf(&b, "- **Experience level:** %s\n", p.ExperienceLevel)
	fmt.Fprintf(&b, "- **Goals:** %s\n", p.Goals)
	if p.LearningStyle != "" {
		fmt.Fprintf(&b, "- **Learning style:** %s\n", p.LearningStyle)
	}
	if p.TimeConstraint != "" {
		fmt.Fprintf(&b, "- **Time available:** %s\n", p.TimeConstraint)
	}

	b.WriteString("\n## Contents\n\n")
	paths := make(map[string]string, len(job.Artifacts))
	for _, a := range job.Artifacts {
		paths[a.TopicSlug] = a.Path
	}
	for i, t := range plan.Topics {
		rel := fmt.Sprintf("sections/%02d_%s", i, t.Slug)
		if full, ok := paths[t.Slug]; ok {
			if idx := strings.Index(full, "/sections/"); idx >= 0 {
				rel = full[idx+1:]
			}
		}
		fmt.Fprintf(&b, "%d. [%s](%s)", i+1, t.Name, rel)
		if t.Description != "" {
			fmt.Fprintf(&b, " - %s", t.Description)
		}
		b.WriteByte('\n')
	}

	if job.Options.IncludeCrossReferences {
		b.WriteString("\n## Topic Dependencies\n\n")
		names := make(map[string]string, len(plan.Topics))
		for _, t := range plan.Topics {
			names[t.Slug] = t.Name
		}
		listed := false
		for _, t := range plan.Topics {
			if len(t.Prerequisites) == 0 {
				continue
			}
			listed = true
			pre := make([]string, 0, len(t.Prerequisites))
			for _, s := range t.Prerequisites {
				pre = append(pre, names[s])
			}
			fmt.Fprintf(&b, "- **%s** builds on %s\n", t.Name, strings.Join(pre, ", "))
		}
		if !listed {
			b.WriteString("Topics can be studied in any order.\n")
		}
	}
	return b.Bytes()
}

// RenderProgress produces a checklist the learner can tick off.
func RenderProgress(plan *domain.CurriculumPlan) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Progress: %s\n\n", plan.Subject)
	for _, t := range plan.Topics {
		fmt.Fprintf(&b, "- [ ] %s\n", t.Name)
	}
	b.WriteString("\n## Notes\n\n")
	return b.Bytes()
}
