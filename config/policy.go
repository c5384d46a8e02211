package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ApprovalPolicy is the platform configuration deciding who may approve a
// pending manual payment.
type ApprovalPolicy struct {
	AllowInstitutionApproval     bool     `yaml:"allow_institution_approval"`
	InstitutionApprovableMethods []string `yaml:"institution_approvable_methods"`
	InstitutionExemptions        []string `yaml:"institution_exemptions"`
}

// LoadApprovalPolicy parses the YAML policy file. An empty path yields the
// zero policy (admin-only).
func LoadApprovalPolicy(path string) (ApprovalPolicy, error) {
	var p ApprovalPolicy
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading approval policy %s: %w", path, err)
	}
	return ParseApprovalPolicy(raw)
}

func ParseApprovalPolicy(raw []byte) (ApprovalPolicy, error) {
	var p ApprovalPolicy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return ApprovalPolicy{}, fmt.Errorf("parsing approval policy: %w", err)
	}
	p.InstitutionApprovableMethods = normalize(p.InstitutionApprovableMethods, strings.ToUpper)
	p.InstitutionExemptions = normalize(p.InstitutionExemptions, nil)
	return p, nil
}

// WithEnvOverrides applies APPROVAL_* variables on top of the file values.
func (p ApprovalPolicy) WithEnvOverrides() ApprovalPolicy {
	if v, ok := getBoolEnv("APPROVAL_ALLOW_INSTITUTION"); ok {
		p.AllowInstitutionApproval = v
	}
	if v := os.Getenv("APPROVAL_INSTITUTION_METHODS"); v != "" {
		p.InstitutionApprovableMethods = normalize(strings.Split(v, ","), strings.ToUpper)
	}
	if v := os.Getenv("APPROVAL_INSTITUTION_EXEMPTIONS"); v != "" {
		p.InstitutionExemptions = normalize(strings.Split(v, ","), nil)
	}
	return p
}

func normalize(values []string, fn func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if fn != nil {
			v = fn(v)
		}
		out = append(out, v)
	}
	return out
}
