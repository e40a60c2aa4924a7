// Copyright 2025 Kellogg Brengel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ContextSource describes one curated content file.
type ContextSource struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	FilePattern string `yaml:"file"`
	Domain      Domain `yaml:"domain"`
	Required    bool   `yaml:"required"`
	Priority    int    `yaml:"priority"`
}

// defaultContextSources is the built-in registry of curated content.
var defaultContextSources = []ContextSource{
	{Name: "skills", DisplayName: "Skills", FilePattern: "professional/skills.md", Domain: DomainProfessional, Required: true, Priority: 10},
	{Name: "resume", DisplayName: "Resume", FilePattern: "professional/resume.md", Domain: DomainProfessional, Required: true, Priority: 8},
	{Name: "achievements", DisplayName: "Achievements", FilePattern: "professional/achievements.md", Domain: DomainProfessional, Priority: 3},

	{Name: "projects_overview", DisplayName: "Projects Overview", FilePattern: "projects/overview.md", Domain: DomainProjects, Required: true, Priority: 10},
	{Name: "portfolio_site", DisplayName: "Portfolio Site", FilePattern: "projects/portfolio_rag_summary.md", Domain: DomainProjects, Priority: 5},
	{Name: "talking_rock", DisplayName: "Talking Rock", FilePattern: "projects/talking_rock_rag_summary.md", Domain: DomainProjects, Priority: 5},
	{Name: "ukraine_osint", DisplayName: "Ukraine OSINT Reader", FilePattern: "projects/ukraine-osint-rag-summary.md", Domain: DomainProjects, Priority: 4},
	{Name: "inflation_dashboard", DisplayName: "Inflation Dashboard", FilePattern: "projects/inflation-dashboard-rag-summary.md", Domain: DomainProjects, Priority: 4},
	{Name: "great_minds", DisplayName: "Great Minds Roundtable", FilePattern: "projects/great-minds-summary.md", Domain: DomainProjects, Priority: 4},

	{Name: "first_robotics", DisplayName: "FIRST Robotics", FilePattern: "hobbies/first_robotics.md", Domain: DomainHobbies, Required: true, Priority: 10},
	{Name: "hobbies", DisplayName: "Hobbies & Interests", FilePattern: "hobbies/hobbies.md", Domain: DomainHobbies, Priority: 5},

	{Name: "problem_solving", DisplayName: "Problem Solving Ethos", FilePattern: "philosophy/professional_ethos.md", Domain: DomainPhilosophy, Required: true, Priority: 10},
	{Name: "values", DisplayName: "Professional Philosophy", FilePattern: "philosophy/professional_philosophy.md", Domain: DomainPhilosophy, Priority: 5},

	{Name: "contact", DisplayName: "Contact Info", FilePattern: "meta/contact.md", Domain: DomainLinkedIn, Required: true, Priority: 10},
	{Name: "resume_linkedin", DisplayName: "Resume", FilePattern: "professional/resume.md", Domain: DomainLinkedIn, Priority: 5},

	{Name: "about_chat", DisplayName: "About Chat", FilePattern: "meta/about_chat.md", Domain: DomainMeta, Required: true, Priority: 10},
	{Name: "portfolio_overview", DisplayName: "Portfolio Overview", FilePattern: "meta/portfolio_rag_summary.md", Domain: DomainMeta, Priority: 5},
}

// SourceRegistry maps domains to their context sources, required sources
// ahead of optional ones within priority order.
type SourceRegistry struct {
	byDomain map[Domain][]ContextSource
}

// NewSourceRegistry builds a registry from the given sources. A nil list
// uses the built-in registry.
func NewSourceRegistry(sources []ContextSource) *SourceRegistry {
	if sources == nil {
		sources = defaultContextSources
	}

	byDomain := make(map[Domain][]ContextSource)
	for _, src := range sources {
		byDomain[src.Domain] = append(byDomain[src.Domain], src)
	}
	for domain := range byDomain {
		list := byDomain[domain]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority > list[j].Priority
		})
	}
	return &SourceRegistry{byDomain: byDomain}
}

// LoadSourceRegistry reads a YAML source registry. Missing file falls back
// to the built-in registry; a malformed file is an error.
func LoadSourceRegistry(path string) (*SourceRegistry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewSourceRegistry(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read source registry: %w", err)
	}

	var doc struct {
		Sources []ContextSource `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse source registry %s: %w", path, err)
	}
	if len(doc.Sources) == 0 {
		return NewSourceRegistry(nil), nil
	}
	return NewSourceRegistry(doc.Sources), nil
}

// ForDomain returns the sources for a domain, required first, each group
// in descending priority order.
func (r *SourceRegistry) ForDomain(domain Domain) []ContextSource {
	sources := r.byDomain[domain]
	ordered := make([]ContextSource, 0, len(sources))
	for _, src := range sources {
		if src.Required {
			ordered = append(ordered, src)
		}
	}
	for _, src := range sources {
		if !src.Required {
			ordered = append(ordered, src)
		}
	}
	return ordered
}

// Domains returns every domain with at least one source.
func (r *SourceRegistry) Domains() []Domain {
	domains := make([]Domain, 0, len(r.byDomain))
	for domain := range r.byDomain {
		domains = append(domains, domain)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	return domains
}

// SourceNames returns the names of all sources, grouped by domain.
func (r *SourceRegistry) SourceNames() map[Domain][]string {
	out := make(map[Domain][]string, len(r.byDomain))
	for domain, sources := range r.byDomain {
		names := make([]string, 0, len(sources))
		for _, src := range sources {
			names = append(names, src.Name)
		}
		out[domain] = names
	}
	return out
}
