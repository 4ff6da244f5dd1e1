package dictionary

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rules is the optional per-deployment override bundle loaded from
// rules.yaml under DICTIONARY_RULES_PATH.
type Rules struct {
	MaxEditDistance *int     `yaml:"max_edit_distance"`
	FuzzyEnabled    *bool    `yaml:"fuzzy_enabled"`
	Terms           []string `yaml:"terms"`
}

// LoadRules reads rules.yaml from dir. A missing file is not an error:
// it returns a zero Rules and found=false, which callers interpret as
// fuzzy matching disabled.
func LoadRules(dir string) (rules Rules, found bool, err error) {
	if dir == "" {
		return Rules{}, false, nil
	}
	path := filepath.Join(dir, "rules.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Rules{}, false, nil
		}
		return Rules{}, false, err
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, false, err
	}
	return r, true, nil
}

// NewFromConfig builds a Dictionary from the base canonical terms plus
// any rules-file overrides/additions. fuzzyEnabled defaults to false
// when no rules file was found and true when one was found, unless the
// rules file explicitly sets fuzzy_enabled.
func NewFromConfig(baseTerms []string, rulesDir string) (*Dictionary, error) {
	rules, foundRulesFile, err := LoadRules(rulesDir)
	if err != nil {
		return nil, err
	}

	fuzzyEnabled := foundRulesFile
	if rules.FuzzyEnabled != nil {
		fuzzyEnabled = *rules.FuzzyEnabled
	}

	maxEditAbs := defaultMaxEditDistanceAbs
	if rules.MaxEditDistance != nil {
		maxEditAbs = *rules.MaxEditDistance
	}

	terms := make([]string, 0, len(baseTerms)+len(rules.Terms))
	terms = append(terms, baseTerms...)
	terms = append(terms, rules.Terms...)

	return New(terms, fuzzyEnabled, maxEditAbs), nil
}
