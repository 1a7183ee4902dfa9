package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"autoconf/pkg/logging"
)

// Multiplicity decides how many records a policy maintains and how triggers
// map to them.
type Multiplicity string

const (
	// PerTrigger maintains one record per matched trigger.
	PerTrigger Multiplicity = "PER_TRIGGER"

	// SharedLazy maintains a single record while at least one trigger matches.
	SharedLazy Multiplicity = "SHARED_LAZY"

	// SharedEager maintains a single record at all times, even with no
	// matching triggers.
	SharedEager Multiplicity = "SHARED_EAGER"
)

// multiplicityAliases maps accepted spellings onto multiplicities.
var multiplicityAliases = map[string]Multiplicity{
	"PER_TRIGGER":  PerTrigger,
	"ONE_FOR_EACH": PerTrigger,
	"SHARED_LAZY":  SharedLazy,
	"ONE_LAZY":     SharedLazy,
	"SHARED_EAGER": SharedEager,
	"ONE_EAGER":    SharedEager,
}

// ParseMultiplicity parses a multiplicity, accepting the legacy
// ONE_FOR_EACH, ONE_LAZY and ONE_EAGER names. Matching ignores case and
// treats '-' like '_'. The empty string yields PerTrigger.
func ParseMultiplicity(s string) (Multiplicity, error) {
	if strings.TrimSpace(s) == "" {
		return PerTrigger, nil
	}
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if m, ok := multiplicityAliases[key]; ok {
		return m, nil
	}
	return "", fmt.Errorf("unknown multiplicity %q", s)
}

// Shared reports whether m maintains a single shared record.
func (m Multiplicity) Shared() bool {
	return m == SharedLazy || m == SharedEager
}

// Valid reports whether m is one of the known multiplicities.
func (m Multiplicity) Valid() bool {
	return m == PerTrigger || m == SharedLazy || m == SharedEager
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Multiplicity) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseMultiplicity(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*m = parsed
	return nil
}

// Policy is an immutable description of the records a reconciler maintains.
//
//	filter: kind=database
//	multiplicity: PER_TRIGGER
//	targetIdentity: db.client
//	isTemplate: true
//	targetScope: ""
//	propertyTemplates:
//	  - url=postgres://{host}:{port}
//	  - name=static
type Policy struct {
	// Name identifies the policy; for files it is the file's base name.
	Name string `yaml:"-"`

	// Filter selects the triggers the policy applies to. Empty matches all.
	Filter string `yaml:"filter,omitempty"`

	Multiplicity Multiplicity `yaml:"multiplicity"`

	// TargetIdentity names the kind of record to create.
	TargetIdentity string `yaml:"targetIdentity"`

	// IsTemplate creates a fresh record per creation when true and reuses
	// the single record named TargetIdentity when false.
	IsTemplate bool `yaml:"isTemplate"`

	// TargetScope binds created records; empty means unbound.
	TargetScope string `yaml:"targetScope,omitempty"`

	// PropertyTemplates are ordered key=value template lines.
	PropertyTemplates []string `yaml:"propertyTemplates,omitempty"`
}

// NewPolicy returns a policy with defaults applied.
func NewPolicy(name, targetIdentity string) Policy {
	return Policy{
		Name:           name,
		Multiplicity:   PerTrigger,
		TargetIdentity: targetIdentity,
		IsTemplate:     true,
	}
}

// rawPolicy accepts both the current field names and the legacy ones.
type rawPolicy struct {
	Filter            string       `yaml:"filter"`
	Multiplicity      Multiplicity `yaml:"multiplicity"`
	TargetIdentity    string       `yaml:"targetIdentity"`
	TargetPid         string       `yaml:"targetPid"`
	IsTemplate        *bool        `yaml:"isTemplate"`
	Factory           *bool        `yaml:"factory"`
	TargetScope       string       `yaml:"targetScope"`
	TargetLocation    string       `yaml:"targetLocation"`
	PropertyTemplates []string     `yaml:"propertyTemplates"`
	Configuration     []string     `yaml:"configuration"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	var raw rawPolicy
	if err := node.Decode(&raw); err != nil {
		return err
	}

	out := Policy{
		Name:              p.Name,
		Filter:            strings.TrimSpace(raw.Filter),
		Multiplicity:      raw.Multiplicity,
		TargetIdentity:    firstNonEmpty(raw.TargetIdentity, raw.TargetPid),
		IsTemplate:        true,
		TargetScope:       firstNonEmpty(raw.TargetScope, raw.TargetLocation),
		PropertyTemplates: raw.PropertyTemplates,
	}
	if out.Multiplicity == "" {
		out.Multiplicity = PerTrigger
	}
	switch {
	case raw.IsTemplate != nil:
		out.IsTemplate = *raw.IsTemplate
	case raw.Factory != nil:
		out.IsTemplate = *raw.Factory
	}
	if len(out.PropertyTemplates) == 0 {
		out.PropertyTemplates = raw.Configuration
	}

	*p = out
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Equal reports whether two policies describe the same behaviour.
func (p Policy) Equal(other Policy) bool {
	if p.Name != other.Name || p.Filter != other.Filter || p.Multiplicity != other.Multiplicity ||
		p.TargetIdentity != other.TargetIdentity || p.IsTemplate != other.IsTemplate ||
		p.TargetScope != other.TargetScope || len(p.PropertyTemplates) != len(other.PropertyTemplates) {
		return false
	}
	for i := range p.PropertyTemplates {
		if p.PropertyTemplates[i] != other.PropertyTemplates[i] {
			return false
		}
	}
	return true
}

// Validate checks the fields a reconciler cannot work without. Template
// lines are not checked here; a malformed line only fails the records that
// use it.
func (p Policy) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(p.TargetIdentity) == "" {
		errs.Add("targetIdentity", "is required for policy")
	}
	if !p.Multiplicity.Valid() {
		errs.Add("multiplicity", fmt.Sprintf("must be one of %s, %s, %s", PerTrigger, SharedLazy, SharedEager), p.Multiplicity)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LintTemplates reports template lines without a key=value separator.
func (p Policy) LintTemplates() ValidationErrors {
	var errs ValidationErrors
	for i, line := range p.PropertyTemplates {
		if !strings.Contains(line, "=") {
			errs.Add(fmt.Sprintf("propertyTemplates[%d]", i), "is not in the format key=value", line)
		}
	}
	return errs
}

// ParsePolicy decodes a policy document.
func ParsePolicy(name string, data []byte) (Policy, error) {
	p := Policy{Name: name}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, err
	}
	if p.Multiplicity == "" {
		// empty documents never reach UnmarshalYAML
		p = NewPolicy(name, p.TargetIdentity)
	}
	return p, nil
}

// PolicyNameFromPath derives the policy name from its file name.
func PolicyNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadPolicy reads and validates the policy file at path.
func LoadPolicy(path string) (Policy, error) {
	name := PolicyNameFromPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Policy{}, err
		}
		return Policy{}, NewConfigurationError(path, CategoryPolicies, ErrorTypeIO, err.Error())
	}

	p, err := ParsePolicy(name, data)
	if err != nil {
		return Policy{}, NewConfigurationErrorWithDetails(path, CategoryPolicies, ErrorTypeParse,
			"invalid policy YAML", err.Error(), []string{"Check the YAML syntax of the policy file"})
	}

	if err := p.Validate(); err != nil {
		return Policy{}, NewConfigurationErrorWithDetails(path, CategoryPolicies, ErrorTypeValidation,
			"invalid policy", err.Error(), validationSuggestions(err))
	}
	return p, nil
}

// LoadPolicies loads every *.yaml and *.yml file in dir. Files that fail to
// load are reported in the returned collection and skipped; the policies
// that did load are returned ordered by name.
func LoadPolicies(dir string) ([]Policy, *ConfigurationErrorCollection) {
	errs := NewConfigurationErrorCollection()

	files, err := policyFiles(dir)
	if err != nil {
		errs.Add(NewConfigurationError(dir, CategoryPolicies, ErrorTypeIO, err.Error()))
		return nil, errs
	}

	policies := make([]Policy, 0, len(files))
	defined := make(map[string]string, len(files))
	for _, file := range files {
		name := PolicyNameFromPath(file)
		if first, ok := defined[name]; ok {
			errs.Add(NewConfigurationErrorWithDetails(file, CategoryPolicies, ErrorTypeValidation,
				"duplicate policy", fmt.Sprintf("policy %s is already defined by %s", name, first),
				[]string{"Remove or rename one of the two files"}))
			continue
		}
		defined[name] = file

		p, err := LoadPolicy(file)
		if err != nil {
			var ce ConfigurationError
			if errors.As(err, &ce) {
				errs.Add(ce)
			} else {
				errs.Add(NewConfigurationError(file, CategoryPolicies, ErrorTypeIO, err.Error()))
			}
			continue
		}
		policies = append(policies, p)
	}

	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	if errs.HasErrors() {
		logging.Warn("ConfigLoader", "%d policy files in %s could not be loaded", errs.Count(), dir)
	}
	return policies, errs
}

func policyFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsYAMLFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// PolicyFilesFor returns the files in dir defining the policy called name,
// preferred file first. LoadPolicies and the manager only use the first.
func PolicyFilesFor(dir, name string) ([]string, error) {
	files, err := policyFiles(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, file := range files {
		if PolicyNameFromPath(file) == name {
			out = append(out, file)
		}
	}
	return out, nil
}

// IsYAMLFile checks if a file path is a YAML file.
func IsYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func validationSuggestions(err error) []string {
	var suggestions []string
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	for _, ve := range verrs {
		switch ve.Field {
		case "targetIdentity":
			suggestions = append(suggestions, "Set targetIdentity to the identity of the records to create")
		case "multiplicity":
			suggestions = append(suggestions, "Use PER_TRIGGER, SHARED_LAZY or SHARED_EAGER")
		}
	}
	return suggestions
}
