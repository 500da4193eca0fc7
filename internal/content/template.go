package content

import (
	"context"
	"fmt"
	"strings"
)

// TemplateGenerator renders notes from the plan metadata alone. It needs no
// model and is used when no API key is configured.
type TemplateGenerator struct{}

// Generate renders a notes skeleton for req.Topic.
func (TemplateGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &Error{Topic: req.Topic.Slug, Retryable: true, Err: err}
	}

	t := req.Topic
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Name)
	fmt.Fprintf(&b, "*%s · topic %d of %d · %s*\n\n", req.Subject, req.Index+1, req.Total, difficultyLabel(t.Difficulty))

	b.WriteString("## Learning Objectives\n\n")
	fmt.Fprintf(&b, "- Explain the role of %s in %s\n", t.Name, req.Subject)
	for _, c := range t.KeyConcepts {
		fmt.Fprintf(&b, "- Use %s with confidence\n", c)
	}

	b.WriteString("\n## Key Concepts\n\n")
	if len(t.KeyConcepts) == 0 {
		b.WriteString("- Core terminology\n")
	}
	for _, c := range t.KeyConcepts {
		fmt.Fprintf(&b, "- **%s**\n", c)
	}

	b.WriteString("\n## Detailed Explanation\n\n")
	if t.Description != "" {
		b.WriteString(t.Description + "\n")
	} else {
		fmt.Fprintf(&b, "An overview of %s.\n", t.Name)
	}

	b.WriteString("\n## Examples\n\n")
	fmt.Fprintf(&b, "Work through a small example that applies %s.\n", t.Name)

	b.WriteString("\n## Practice Exercises\n\n")
	fmt.Fprintf(&b, "1. Summarize %s in your own words.\n", t.Name)
	if req.Profile.LearningStyle == "hands_on" || req.Profile.LearningStyle == "mixed" || req.Profile.LearningStyle == "" {
		fmt.Fprintf(&b, "2. Build something small that uses %s.\n", t.Name)
	} else {
		fmt.Fprintf(&b, "2. Draw a diagram connecting the key concepts of %s.\n", t.Name)
	}

	b.WriteString("\n## Related Topics\n\n")
	if len(t.Prerequisites) == 0 {
		b.WriteString("- None\n")
	}
	for _, p := range t.Prerequisites {
		fmt.Fprintf(&b, "- %s\n", p)
	}

	b.WriteString("\n## Next Steps\n\n")
	if req.Next != "" {
		fmt.Fprintf(&b, "Continue with **%s**.\n", req.Next)
	} else {
		b.WriteString("This is the final topic. Review the notebook and revisit weak spots.\n")
	}

	b.WriteString("\n## Resources\n\n")
	fmt.Fprintf(&b, "- Official %s documentation\n", req.Subject)
	return b.String(), nil
}
