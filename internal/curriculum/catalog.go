package curriculum

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/studyforge/internal/domain"
)

//go:embed catalog/default.yaml
var defaultCatalog []byte

// Catalog lists known subjects and their topics.
type Catalog struct {
	Subjects []Subject     `yaml:"subjects"`
	Generic  []CatalogItem `yaml:"generic"`
}

// Subject is one catalog entry.
type Subject struct {
	Name    string        `yaml:"name"`
	Aliases []string      `yaml:"aliases"`
	Topics  []CatalogItem `yaml:"topics"`
}

// CatalogItem is a topic template. Prerequisites refer to other item names.
type CatalogItem struct {
	Name          string   `yaml:"name"`
	Difficulty    int      `yaml:"difficulty"`
	Prerequisites []string `yaml:"prerequisites"`
	Description   string   `yaml:"description"`
	KeyConcepts   []string `yaml:"key_concepts"`
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for _, s := range c.Subjects {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("parse catalog: subject without name")
		}
		if len(s.Topics) == 0 {
			return nil, fmt.Errorf("parse catalog: subject %q has no topics", s.Name)
		}
		if err := checkPrerequisites(s.Name, s.Topics); err != nil {
			return nil, err
		}
	}
	if err := checkPrerequisites("generic", c.Generic); err != nil {
		return nil, err
	}
	return &c, nil
}

func checkPrerequisites(subject string, items []CatalogItem) error {
	names := make(map[string]bool, len(items))
	for _, it := range items {
		names[it.Name] = true
	}
	for _, it := range items {
		for _, p := range it.Prerequisites {
			if !names[p] {
				return fmt.Errorf("parse catalog: %s topic %q needs unknown topic %q", subject, it.Name, p)
			}
		}
	}
	return nil
}

var parseDefault = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
})

// DefaultCatalog returns the built-in catalog. The catalog is parsed once and
// shared, so callers must not modify it.
func DefaultCatalog() (*Catalog, error) {
	return parseDefault()
}

// LoadCatalog reads a catalog file, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Lookup finds a subject by name or alias, then by substring match.
func (c *Catalog) Lookup(subject string) (*Subject, bool) {
	want := strings.ToLower(strings.TrimSpace(subject))
	if want == "" {
		return nil, false
	}
	for i := range c.Subjects {
		s := &c.Subjects[i]
		if strings.ToLower(s.Name) == want {
			return s, true
		}
		for _, a := range s.Aliases {
			if strings.ToLower(a) == want {
				return s, true
			}
		}
	}
	for i := range c.Subjects {
		s := &c.Subjects[i]
		name := strings.ToLower(s.Name)
		if strings.Contains(name, " ") && strings.Contains(want, name) {
			return s, true
		}
		for _, word := range strings.Fields(want) {
			if name == word {
				return s, true
			}
			for _, a := range s.Aliases {
				if strings.ToLower(a) == word {
					return s, true
				}
			}
		}
	}
	return nil, false
}

// SubjectNames lists every subject name and alias in the catalog.
func (c *Catalog) SubjectNames() []string {
	var names []string
	for _, s := range c.Subjects {
		names = append(names, s.Name)
		names = append(names, s.Aliases...)
	}
	return names
}

// CatalogDecomposer decomposes subjects using a Catalog.
type CatalogDecomposer struct {
	Catalog *Catalog
	// AllowGeneric falls back to the generic templates for unknown subjects.
	AllowGeneric bool
}

// Decompose returns the catalog topics for subject.
func (d *CatalogDecomposer) Decompose(_ context.Context, subject string, _ domain.LearnerProfile) ([]Candidate, error) {
	cat := d.Catalog
	if cat == nil {
		var err error
		if cat, err = DefaultCatalog(); err != nil {
			return nil, err
		}
	}
	if s, ok := cat.Lookup(subject); ok {
		return itemsToCandidates(s.Topics, nil), nil
	}
	if d.AllowGeneric && len(cat.Generic) > 0 {
		r := strings.NewReplacer("{subject}", strings.TrimSpace(subject))
		return itemsToCandidates(cat.Generic, r), nil
	}
	return nil, fmt.Errorf("no curriculum known for subject %q", subject)
}

func itemsToCandidates(items []CatalogItem, r *strings.Replacer) []Candidate {
	sub := func(s string) string {
		if r == nil {
			return s
		}
		return r.Replace(s)
	}
	out := make([]Candidate, 0, len(items))
	for _, it := range items {
		c := Candidate{
			Name:        sub(it.Name),
			Difficulty:  it.Difficulty,
			Description: sub(it.Description),
			KeyConcepts: append([]string(nil), it.KeyConcepts...),
		}
		for _, p := range it.Prerequisites {
			c.Prerequisites = append(c.Prerequisites, sub(p))
		}
		out = append(out, c)
	}
	return out
}
