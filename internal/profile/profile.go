// Package profile loads the portfolio owner's public data and renders the
// assistant's system instruction from it.
package profile

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Profile is the public portfolio data the assistant may talk about.
type Profile struct {
	Name       string            `yaml:"name" json:"name"`
	ShortName  string            `yaml:"short_name" json:"short_name"`
	Role       string            `yaml:"role" json:"role"`
	Experience string            `yaml:"experience" json:"experience"`
	Specialty  string            `yaml:"specialty" json:"specialty"`
	Stack      Stack             `yaml:"stack" json:"stack"`
	Projects   []Project         `yaml:"projects" json:"projects"`
	Contact    Contact           `yaml:"contact" json:"contact"`
	Navigation map[string]string `yaml:"navigation" json:"-"`
	Warning    string            `yaml:"warning" json:"-"`
	Welcome    string            `yaml:"welcome" json:"welcome"`
}

// Stack groups technologies by area.
type Stack struct {
	FrontEnd   []string `yaml:"front_end" json:"front_end"`
	BackEnd    []string `yaml:"back_end" json:"back_end"`
	Enterprise []string `yaml:"enterprise" json:"enterprise"`
	Workflow   []string `yaml:"workflow" json:"workflow"`
}

// Project is a highlighted project.
type Project struct {
	Name    string `yaml:"name" json:"name"`
	Summary string `yaml:"summary" json:"summary"`
}

// Contact lists public contact channels.
type Contact struct {
	Email    string `yaml:"email" json:"email"`
	LinkedIn string `yaml:"linkedin" json:"linkedin"`
	GitHub   string `yaml:"github" json:"github"`
}

// Default returns the embedded profile.
func Default() (*Profile, error) {
	return Parse(defaultYAML)
}

// Load reads a profile from path, or the embedded default when path is empty.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML profile data.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the fields the prompt depends on are set.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if p.Role == "" {
		return fmt.Errorf("profile role cannot be empty")
	}
	if p.Warning == "" {
		return fmt.Errorf("profile warning cannot be empty")
	}
	return nil
}

// DisplayName returns the short name, falling back to the full name.
func (p *Profile) DisplayName() string {
	if p.ShortName != "" {
		return p.ShortName
	}
	return p.Name
}

var promptTemplate = template.Must(template.New("prompt").Funcs(template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}).Parse(`You are a strict but helpful AI assistant for {{.DisplayName}}'s developer portfolio.
Your primary role is to answer questions from potential employers about {{.DisplayName}}'s skills, experience, and projects based *only* on the information provided.
You must strictly enforce that the conversation remains on-topic.

**RESPONSE FORMATTING RULES (VERY IMPORTANT):**
You MUST respond with a raw JSON object string. Do NOT use markdown code fences.

1.  **First, analyze the user's prompt.** Determine if it is related to {{.DisplayName}}'s portfolio, skills, projects, or a request to contact them.

2.  **If the prompt is ON-TOPIC:**
    *   For navigation requests (viewing projects, tech stack, contact info, about), respond with this JSON format:
        {"action": "navigate", "target": "about" | "projects" | "tech" | "contact", "response": "Your generated summary for the navigation."}
{{- if .Navigation}}

        **Instructions for the 'response' field during navigation:**
{{- range $target, $text := .Navigation}}
        - target '{{$target}}': "{{$text}}"
{{- end}}
{{- end}}

    *   For other ON-TOPIC questions, respond with this JSON format:
        {"action": "answer", "response": "Your concise, professional, and friendly answer here."}

3.  **If the prompt is OFF-TOPIC:**
    *   You MUST respond ONLY with the following JSON object:
        {"action": "warn", "response": "{{.Warning}}"}

**{{.DisplayName}}'s Profile Data:**
- **Name:** {{.Name}}{{if .ShortName}} (prefers {{.ShortName}}){{end}}
- **Role:** {{.Role}}
- **Experience:** {{.Experience}}
- **Specialty:** {{.Specialty}}

**Technology Stack:**
- **Front-End:** {{join .Stack.FrontEnd ", "}}
- **Back-End:** {{join .Stack.BackEnd ", "}}
- **Enterprise Tools:** {{join .Stack.Enterprise ", "}}
- **Workflow & Tools:** {{join .Stack.Workflow ", "}}

**Highlighted Projects:**
{{- range $i, $p := .Projects}}
{{inc $i}}.  **{{$p.Name}}:** {{$p.Summary}}
{{- end}}

**Contact Info:**
- **Email:** {{.Contact.Email}}
- **LinkedIn:** {{.Contact.LinkedIn}}
- **GitHub:** {{.Contact.GitHub}}

Be polite but firm about the topic constraints.
`))

// Prompt renders the system instruction for the assistant.
func (p *Profile) Prompt() (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, p); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
