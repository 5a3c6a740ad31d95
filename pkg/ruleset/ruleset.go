package ruleset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	// CDN is where the archives are actually hosted.
	CDN = "https://pygame-web.github.io/archives/"
	// Local is the development server prefix hardcoded in the loader.
	Local = "http://localhost:8000/archives/"
	// Local2 is the loopback literal spelling of Local.
	Local2 = "http://127.0.0.1:8000/archives/"
)

// ErrInvalidRule is returned for rules that can never be applied safely.
var ErrInvalidRule = errors.New("invalid rule")

// Rule replaces the first occurrence of Match with Replace.
type Rule struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

// RuleSet is applied in order, each rule at most once per URL.
type RuleSet []Rule

// Default returns the built-in local archive rules.
func Default() RuleSet {
	return RuleSet{
		{Match: Local, Replace: CDN},
		{Match: Local2, Replace: CDN},
	}
}

// Validate rejects rules a second pass could act on again: an empty
// pattern, a replacement that contains or overlaps its own pattern, or a
// pattern that contains its replacement.
func (r Rule) Validate() error {
	if r.Match == "" {
		return fmt.Errorf("%w: empty match", ErrInvalidRule)
	}
	if reason := conflict(r.Replace, r.Match); reason != "" {
		return fmt.Errorf("%w: %s", ErrInvalidRule, reason)
	}
	return nil
}

// Validate checks each rule and every replacement against every other
// rule's pattern. A valid set rewrites a URL holding each pattern at most
// once into a fixed point.
func (rs RuleSet) Validate() error {
	var errs []error
	for i, rule := range rs {
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		for j, other := range rs {
			if j == i || other.Match == "" {
				continue
			}
			if reason := conflict(rule.Replace, other.Match); reason != "" {
				errs = append(errs, fmt.Errorf("rule %d: %w: %s (rule %d)", i, ErrInvalidRule, reason, j))
			}
		}
	}
	return errors.Join(errs...)
}

// conflict reports how replacing text with replace could produce a new
// occurrence of match, or "" when it cannot.
func conflict(replace, match string) string {
	switch {
	case strings.Contains(replace, match):
		return fmt.Sprintf("replace %q contains match %q", replace, match)
	case strings.Contains(match, replace):
		return fmt.Sprintf("match %q contains replace %q", match, replace)
	case overlaps(replace, match) || overlaps(match, replace):
		return fmt.Sprintf("replace %q overlaps match %q", replace, match)
	}
	return ""
}

// overlaps reports whether a proper suffix of a is a proper prefix of b.
func overlaps(a, b string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for k := 1; k < n; k++ {
		if a[len(a)-k:] == b[:k] {
			return true
		}
	}
	return false
}

// Count returns the number of rules.
func (rs RuleSet) Count() int {
	return len(rs)
}

// Targets returns the distinct replacement prefixes, in first-seen order.
func (rs RuleSet) Targets() []string {
	var targets []string
	seen := make(map[string]bool)
	for _, rule := range rs {
		if !seen[rule.Replace] {
			seen[rule.Replace] = true
			targets = append(targets, rule.Replace)
		}
	}
	return targets
}

// Load returns the default rules followed by any rules found under
// rulePaths. Multiple paths are separated by ';'. Directories are walked
// for .yml and .yaml files.
func Load(rulePaths string) (RuleSet, error) {
	ruleSet := Default()
	if strings.TrimSpace(rulePaths) == "" {
		return ruleSet, nil
	}

	var errs []error
	for _, rulePath := range strings.Split(rulePaths, ";") {
		trimmedPath := strings.TrimSpace(rulePath)
		if trimmedPath == "" {
			continue
		}

		rules, err := loadPath(trimmedPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load rules from '%s': %w", trimmedPath, err))
			continue
		}
		ruleSet = append(ruleSet, rules...)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := ruleSet.Validate(); err != nil {
		return nil, err
	}

	log.Info().Int("rules", ruleSet.Count()).Msg("loaded rewrite rules")
	return ruleSet, nil
}

func loadPath(root string) (RuleSet, error) {
	var rules RuleSet
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !(strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml")) {
			return nil
		}

		yamlFile, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read rules file '%s': %w", path, err)
		}
		var r RuleSet
		if err := yaml.Unmarshal(yamlFile, &r); err != nil {
			return fmt.Errorf("syntax error in rules file '%s': %w", path, err)
		}
		rules = append(rules, r...)
		return nil
	})
	return rules, err
}
