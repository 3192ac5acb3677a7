package notification

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Built-in SMS templates per content language. A template file can override
// or extend these.
var defaultTemplates = map[string]string{
	"en": "An alert for {{event}} has been triggered by one of your data collectors. Last report sent from {{village}}. Please check the alert list and cross-check the alert: {{link}}.",
	"fr": "Une alerte pour {{event}} a été déclenchée par l'un de vos collecteurs de données. Dernier rapport envoyé par {{village}}. Veuillez vérifier la liste des alertes et recouper l'alerte: {{link}}.",
}

// TemplateSet selects and renders the SMS template for a content language,
// falling back to a configured language when the requested one is not known.
type TemplateSet struct {
	templates    map[string]string
	fallbackLang string
}

// MessageData holds the substitution values for one alert notification.
type MessageData struct {
	HealthSignalName string
	Village          string
	Link             string
}

// NewTemplateSet creates a template set with the built-in templates. The
// fallback language must be one of the known languages.
func NewTemplateSet(fallbackLang string) (*TemplateSet, error) {
	templates := make(map[string]string, len(defaultTemplates))
	for lang, tmpl := range defaultTemplates {
		templates[lang] = tmpl
	}

	ts := &TemplateSet{
		templates:    templates,
		fallbackLang: strings.ToLower(fallbackLang),
	}
	if _, ok := ts.templates[ts.fallbackLang]; !ok {
		return nil, fmt.Errorf("no template for fallback language %q", fallbackLang)
	}
	return ts, nil
}

// LoadFile merges language templates from a YAML file (language code to
// template body) over the built-in set.
func (ts *TemplateSet) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file: %w", err)
	}

	var loaded map[string]string
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse template file: %w", err)
	}

	for lang, tmpl := range loaded {
		ts.templates[strings.ToLower(lang)] = tmpl
	}
	return nil
}

// Render builds the message body for a content language, substituting the
// {{event}}, {{village}} and {{link}} placeholders.
func (ts *TemplateSet) Render(languageCode string, data MessageData) string {
	tmpl, ok := ts.templates[strings.ToLower(languageCode)]
	if !ok {
		tmpl = ts.templates[ts.fallbackLang]
	}

	replacer := strings.NewReplacer(
		"{{event}}", data.HealthSignalName,
		"{{village}}", data.Village,
		"{{link}}", data.Link,
	)
	return replacer.Replace(tmpl)
}
