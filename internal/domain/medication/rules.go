package medication

import (
	"encoding/json"
	"io"
	"strings"
)

// InteractionRule describes a known medication-pair interaction.
type InteractionRule struct {
	MedicationA string          `json:"medication_a"`
	MedicationB string          `json:"medication_b"`
	Severity    FindingSeverity `json:"severity"`
	Evidence    string          `json:"evidence"`
}

// RuleSet is the lookup structure for interaction and contraindication
// rules. It is built once at startup and read concurrently thereafter.
type RuleSet struct {
	interactions map[string]InteractionRule
	// contraindications maps a lower-cased allergen to the medication
	// ingredients it clashes with.
	contraindications map[string][]string
}

// NewRuleSet returns an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{
		interactions:      make(map[string]InteractionRule),
		contraindications: make(map[string][]string),
	}
}

// AddInteraction registers a pair interaction. Order of the pair does
// not matter for lookup.
func (rs *RuleSet) AddInteraction(rule InteractionRule) {
	rs.interactions[pairKey(rule.MedicationA, rule.MedicationB)] = rule
}

// AddContraindication registers that an allergen clashes with a
// medication ingredient.
func (rs *RuleSet) AddContraindication(allergen, ingredient string) {
	key := strings.ToLower(allergen)
	rs.contraindications[key] = append(rs.contraindications[key], strings.ToLower(ingredient))
}

// Interaction looks up the interaction rule for a medication pair.
func (rs *RuleSet) Interaction(medA, medB string) (InteractionRule, bool) {
	rule, ok := rs.interactions[pairKey(medA, medB)]
	return rule, ok
}

// Contraindicated reports whether the medication contains an ingredient
// that clashes with the given allergen.
func (rs *RuleSet) Contraindicated(med *Record, allergen string) bool {
	clashes, ok := rs.contraindications[strings.ToLower(allergen)]
	if !ok {
		return false
	}
	for _, ingredient := range med.Ingredients {
		lowered := strings.ToLower(ingredient)
		for _, clash := range clashes {
			if lowered == clash {
				return true
			}
		}
		// An allergen that names the ingredient itself always clashes.
		if lowered == strings.ToLower(allergen) {
			return true
		}
	}
	return false
}

func pairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Catalogue bundles published records and rules for file-based loading.
type Catalogue struct {
	Medications       []*Record         `json:"medications"`
	Interactions      []InteractionRule `json:"interactions"`
	Contraindications []struct {
		Allergen   string `json:"allergen"`
		Ingredient string `json:"ingredient"`
	} `json:"contraindications"`
}

// LoadCatalogue decodes a catalogue document and returns the records
// plus a populated rule set.
func LoadCatalogue(r io.Reader) ([]*Record, *RuleSet, error) {
	var cat Catalogue
	if err := json.NewDecoder(r).Decode(&cat); err != nil {
		return nil, nil, err
	}

	rules := NewRuleSet()
	for _, rule := range cat.Interactions {
		rules.AddInteraction(rule)
	}
	for _, c := range cat.Contraindications {
		rules.AddContraindication(c.Allergen, c.Ingredient)
	}
	return cat.Medications, rules, nil
}
