package rule

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// LoadFile parses and validates a YAML rule seed file (a top-level `rules`
// list). Missing IDs are generated. Rules default to enabled when the file
// does not say otherwise.
func LoadFile(path string) ([]*AutomationRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return parseRules(raw)
}

func parseRules(raw []byte) ([]*AutomationRule, error) {
	var rf struct {
		Rules []yaml.Node `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}

	rules := make([]*AutomationRule, 0, len(rf.Rules))
	for i, node := range rf.Rules {
		var r AutomationRule
		if err := node.Decode(&r); err != nil {
			return nil, fmt.Errorf("rule file: entry %d: %w", i, err)
		}
		if !hasKey(&node, "enabled") {
			r.Enabled = true
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule file: rule %q: %w", r.Name, err)
		}
		rules = append(rules, &r)
	}
	return rules, nil
}

// hasKey reports whether a YAML mapping node contains the given key.
func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
