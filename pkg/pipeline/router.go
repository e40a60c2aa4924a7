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
	"strings"
)

// RouteStatus is the outcome of the domain router stage.
type RouteStatus string

const (
	RouteRouted     RouteStatus = "routed"
	RouteOutOfScope RouteStatus = "out_of_scope"
)

// RouteResult carries the matched domain. Out-of-scope requests still pass;
// the generator answers them with a redirect.
type RouteResult struct {
	Status       RouteStatus
	Domain       Domain
	Confidence   float64
	ErrorMessage string
}

const outOfScopeMessage = "I'm designed to answer questions about Kellogg's work and projects. For other topics, I'd recommend a general AI assistant."

// topicDomainMap maps normalized intent topics to domains.
var topicDomainMap = map[string]Domain{
	"work_experience": DomainProfessional,
	"skills":          DomainProfessional,
	"education":       DomainProfessional,
	"achievements":    DomainProfessional,
	"career":          DomainProfessional,
	"resume":          DomainProfessional,
	"experience":      DomainProfessional,

	"projects":  DomainProjects,
	"portfolio": DomainProjects,
	"github":    DomainProjects,
	"code":      DomainProjects,
	"technical": DomainProjects,

	"hobbies":        DomainHobbies,
	"volunteering":   DomainHobbies,
	"first_robotics": DomainHobbies,
	"interests":      DomainHobbies,
	"personal":       DomainHobbies,

	"philosophy":      DomainPhilosophy,
	"approach":        DomainPhilosophy,
	"values":          DomainPhilosophy,
	"working_style":   DomainPhilosophy,
	"problem_solving": DomainPhilosophy,

	"contact":       DomainLinkedIn,
	"linkedin":      DomainLinkedIn,
	"networking":    DomainLinkedIn,
	"connect":       DomainLinkedIn,
	"hire":          DomainLinkedIn,
	"hiring":        DomainLinkedIn,
	"message":       DomainLinkedIn,
	"email":         DomainLinkedIn,
	"reach_out":     DomainLinkedIn,
	"leave_message": DomainLinkedIn,
	"send_message":  DomainLinkedIn,

	"chat_system":        DomainMeta,
	"about_chat":         DomainMeta,
	"how_does_this_work": DomainMeta,
}

type keywordHint struct {
	keyword string
	domain  Domain
}

// keywordHints is ordered so tie-breaking between domains is deterministic.
var keywordHints = []keywordHint{
	{"kohler", DomainProfessional},
	{"work", DomainProfessional},
	{"job", DomainProfessional},
	{"python", DomainProfessional},
	{"programming", DomainProfessional},
	{"engineer", DomainProfessional},
	{"project", DomainProjects},
	{"github", DomainProjects},
	{"portfolio", DomainProjects},
	{"built", DomainProjects},
	{"created", DomainProjects},
	{"robot", DomainHobbies},
	{"first", DomainHobbies},
	{"lego", DomainHobbies},
	{"volunteer", DomainHobbies},
	{"food bank", DomainHobbies},
	{"approach", DomainPhilosophy},
	{"think", DomainPhilosophy},
	{"philosophy", DomainPhilosophy},
	{"values", DomainPhilosophy},
	{"linkedin", DomainLinkedIn},
	{"contact", DomainLinkedIn},
	{"reach", DomainLinkedIn},
	{"connect", DomainLinkedIn},
	{"message", DomainLinkedIn},
	{"email", DomainLinkedIn},
	{"tell kellogg", DomainLinkedIn},
	{"tell kel", DomainLinkedIn},
	{"leave a message", DomainLinkedIn},
	{"send", DomainLinkedIn},
	{"chat", DomainMeta},
	{"system", DomainMeta},
	{"ai", DomainMeta},
	{"bot", DomainMeta},
}

// DefaultProjectNames is the built-in list of project names that force a
// route to the projects domain.
var DefaultProjectNames = []string{
	"talking rock",
	"cairn",
	"great minds",
	"ukraine osint",
	"osint reader",
	"inflation dashboard",
}

// Router maps parsed intent to a domain. Entirely rule based; the LLM never
// decides which context store a request may read.
type Router struct {
	projectNames []string
}

// NewRouter creates the router. A nil projectNames list uses
// DefaultProjectNames.
func NewRouter(projectNames []string) *Router {
	if projectNames == nil {
		projectNames = DefaultProjectNames
	}
	lowered := make([]string, 0, len(projectNames))
	for _, name := range projectNames {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			lowered = append(lowered, name)
		}
	}
	return &Router{projectNames: lowered}
}

// Route maps an intent plus the original message to a domain.
func (r *Router) Route(intent Intent, originalMessage string) RouteResult {
	if intent.QuestionType == QuestionGreeting {
		return RouteResult{Status: RouteRouted, Domain: DomainMeta, Confidence: 1.0}
	}

	// Mentions of a known project name win over whatever topic the intent
	// classifier produced. Small classifiers routinely tag project questions
	// as chat_system.
	if r.mentionsProject(intent.Entities, originalMessage) {
		confidence := intent.Confidence
		if confidence < 0.8 {
			confidence = 0.8
		}
		return RouteResult{Status: RouteRouted, Domain: DomainProjects, Confidence: confidence}
	}

	topic := strings.ReplaceAll(strings.ToLower(intent.Topic), " ", "_")
	if domain, ok := topicDomainMap[topic]; ok {
		return RouteResult{Status: RouteRouted, Domain: domain, Confidence: intent.Confidence}
	}

	if domain, hits, ok := r.bestKeywordDomain(intent.Entities, originalMessage); ok {
		confidence := intent.Confidence + float64(hits)*0.1
		if confidence > 0.8 {
			confidence = 0.8
		}
		return RouteResult{Status: RouteRouted, Domain: domain, Confidence: confidence}
	}

	if intent.Topic == "general" && intent.Confidence >= 0.5 {
		return RouteResult{Status: RouteRouted, Domain: DomainProfessional, Confidence: 0.5}
	}

	return RouteResult{
		Status:       RouteOutOfScope,
		Domain:       DomainOutOfScope,
		Confidence:   0.0,
		ErrorMessage: outOfScopeMessage,
	}
}

func (r *Router) mentionsProject(entities []string, message string) bool {
	messageLower := strings.ToLower(message)
	for _, name := range r.projectNames {
		if strings.Contains(messageLower, name) {
			return true
		}
		for _, entity := range entities {
			if strings.Contains(strings.ToLower(entity), name) {
				return true
			}
		}
	}
	return false
}

func (r *Router) bestKeywordDomain(entities []string, message string) (Domain, int, bool) {
	matches := make(map[Domain]int)
	for _, entity := range entities {
		entityLower := strings.ToLower(entity)
		for _, hint := range keywordHints {
			if strings.Contains(entityLower, hint.keyword) {
				matches[hint.domain]++
			}
		}
	}
	if message != "" {
		messageLower := strings.ToLower(message)
		for _, hint := range keywordHints {
			if strings.Contains(messageLower, hint.keyword) {
				matches[hint.domain]++
			}
		}
	}

	var best Domain
	bestCount := 0
	// Walk hints in declaration order so ties resolve the same way every run.
	for _, hint := range keywordHints {
		if count := matches[hint.domain]; count > bestCount {
			best = hint.domain
			bestCount = count
		}
	}
	if bestCount == 0 {
		return "", 0, false
	}
	return best, bestCount, true
}

// DomainDescription returns a short human-readable description of a domain.
func DomainDescription(domain Domain) string {
	switch domain {
	case DomainProfessional:
		return "professional background, work experience, and skills"
	case DomainProjects:
		return "projects, portfolio work, and technical implementations"
	case DomainHobbies:
		return "hobbies, volunteering, and personal interests"
	case DomainPhilosophy:
		return "problem-solving approach and working philosophy"
	case DomainLinkedIn:
		return "professional networking and contact information"
	case DomainMeta:
		return "this chat system"
	case DomainOutOfScope:
		return "topics outside my knowledge area"
	default:
		return "unknown domain"
	}
}
