package campaign

import (
	"regexp"
	"strings"
)

// Renderer substitutes {{variableName}} tokens in subject/body templates with
// contact values. Rendering is total: malformed input never errors, an empty
// template renders to an empty string, and re-rendering an already rendered
// string is a no-op once no recognized tokens remain.
type Renderer struct {
	firstNameFallback string
	companyFallback   string
}

// RendererConfig holds the per-variable fallback strings. Injected rather
// than hardcoded so deployments can localize the greeting.
type RendererConfig struct {
	FirstNameFallback string `yaml:"first_name_fallback"`
	CompanyFallback   string `yaml:"company_fallback"`
}

// NewRenderer creates a template renderer. Empty config fields get the
// standard fallbacks ("there" / "your company").
func NewRenderer(cfg RendererConfig) *Renderer {
	if cfg.FirstNameFallback == "" {
		cfg.FirstNameFallback = "there"
	}
	if cfg.CompanyFallback == "" {
		cfg.CompanyFallback = "your company"
	}
	return &Renderer{
		firstNameFallback: cfg.FirstNameFallback,
		companyFallback:   cfg.CompanyFallback,
	}
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// standardVariables is the supported set beyond contact custom fields.
var standardVariables = map[string]bool{
	"firstName":   true,
	"lastName":    true,
	"fullName":    true,
	"company":     true,
	"email":       true,
	"linkedinUrl": true,
}

// Render replaces every recognized token with the contact's value, falling
// back per variable when the value is absent or empty. Unknown tokens are
// left in place for Validate to report.
func (r *Renderer) Render(template string, c Contact) string {
	if template == "" {
		return ""
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		val, known := r.resolve(name, c)
		if !known {
			return match
		}
		return val
	})
}

// resolve returns the substitution value for a variable and whether the
// variable is recognized at all (standard set or present in custom fields).
func (r *Renderer) resolve(name string, c Contact) (string, bool) {
	switch name {
	case "firstName":
		return orFallback(c.FirstName, r.firstNameFallback), true
	case "lastName":
		return strings.TrimSpace(c.LastName), true
	case "fullName":
		return c.FullName(), true
	case "company":
		return orFallback(c.Company, r.companyFallback), true
	case "email":
		return strings.TrimSpace(c.Email), true
	case "linkedinUrl":
		return strings.TrimSpace(c.LinkedInURL), true
	}
	if c.CustomFields != nil {
		if v, ok := c.CustomFields[name]; ok {
			return v, true
		}
	}
	return "", false
}

// Validate reports the unsupported variables in a template: tokens outside
// the standard set that the contact's custom fields do not cover either.
func (r *Renderer) Validate(template string, c Contact) []string {
	var unsupported []string
	seen := map[string]bool{}
	for _, m := range tokenPattern.FindAllStringSubmatch(template, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if standardVariables[name] {
			continue
		}
		if c.CustomFields != nil {
			if _, ok := c.CustomFields[name]; ok {
				continue
			}
		}
		unsupported = append(unsupported, name)
	}
	return unsupported
}

func orFallback(val, fallback string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return fallback
	}
	return val
}
