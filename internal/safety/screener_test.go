package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/medsafe/internal/domain/medication"
)

type fakeDirectory struct {
	active    []*medication.Record
	allergies []medication.Allergy
}

func (d *fakeDirectory) ActiveMedications(ctx context.Context, residentID string) ([]*medication.Record, error) {
	return d.active, nil
}

func (d *fakeDirectory) Allergies(ctx context.Context, residentID string) ([]medication.Allergy, error) {
	return d.allergies, nil
}

type fakeAudit struct {
	records []ScreeningRecord
}

func (a *fakeAudit) RecordScreening(ctx context.Context, rec ScreeningRecord) error {
	a.records = append(a.records, rec)
	return nil
}

var (
	warfarin = &medication.Record{ID: "med-warfarin", Name: "Warfarin", Ingredients: []string{"warfarin"}}
	aspirin  = &medication.Record{ID: "med-aspirin", Name: "Aspirin", Ingredients: []string{"aspirin"}}
	amoxi    = &medication.Record{ID: "med-amoxi", Name: "Amoxicillin", Ingredients: []string{"amoxicillin"}}
)

func testRules() *medication.RuleSet {
	rules := medication.NewRuleSet()
	rules.AddInteraction(medication.InteractionRule{
		MedicationA: "med-warfarin",
		MedicationB: "med-aspirin",
		Severity:    medication.SeverityCaution,
		Evidence:    "increased bleeding risk",
	})
	rules.AddContraindication("penicillin", "amoxicillin")
	return rules
}

func TestScreenCleanPassIsAudited(t *testing.T) {
	audit := &fakeAudit{}
	s := NewScreener(&fakeDirectory{}, testRules(), audit, nil)

	findings, decision, err := s.Screen(context.Background(), "res-1", aspirin)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.False(t, decision.Blocked)

	// The clean pass still leaves an audit record.
	require.Len(t, audit.records, 1)
	rec := audit.records[0]
	assert.Equal(t, "res-1", rec.ResidentID)
	assert.Equal(t, "med-aspirin", rec.MedicationID)
	assert.False(t, rec.Blocked)
	assert.Empty(t, rec.Findings)
}

func TestScreenDetectsInteraction(t *testing.T) {
	dir := &fakeDirectory{active: []*medication.Record{warfarin}}
	s := NewScreener(dir, testRules(), nil, nil)

	findings, decision, err := s.Screen(context.Background(), "res-1", aspirin)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, CategoryInteraction, f.Category)
	assert.Equal(t, "med-aspirin", f.Medication)
	assert.Equal(t, "med-warfarin", f.InteractsWith)
	assert.Equal(t, medication.SeverityCaution, f.Severity)
	assert.Equal(t, "increased bleeding risk", f.Evidence)

	// Caution warns but does not block.
	assert.False(t, decision.Blocked)
	assert.Equal(t, medication.SeverityCaution, decision.MaxSeverity)
}

func TestScreenLifeThreateningAllergyBlocks(t *testing.T) {
	dir := &fakeDirectory{allergies: []medication.Allergy{{
		ResidentID: "res-1",
		Allergen:   "penicillin",
		Reaction:   "anaphylaxis",
		Severity:   medication.AllergyLifeThreatening,
	}}}
	audit := &fakeAudit{}
	s := NewScreener(dir, testRules(), audit, nil)

	findings, decision, err := s.Screen(context.Background(), "res-1", amoxi)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, CategoryContraindication, findings[0].Category)
	assert.Equal(t, medication.SeverityContraindicated, findings[0].Severity)

	assert.True(t, decision.Blocked)
	require.NotNil(t, decision.Worst)
	assert.Equal(t, "penicillin", decision.Worst.Allergen)

	require.Len(t, audit.records, 1)
	assert.True(t, audit.records[0].Blocked)
}

func TestScreenMildAllergyDoesNotBlock(t *testing.T) {
	dir := &fakeDirectory{allergies: []medication.Allergy{{
		ResidentID: "res-1",
		Allergen:   "penicillin",
		Severity:   medication.AllergyMild,
	}}}
	s := NewScreener(dir, testRules(), nil, nil)

	findings, decision, err := s.Screen(context.Background(), "res-1", amoxi)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.False(t, decision.Blocked)
	assert.Equal(t, medication.SeverityInformational, decision.MaxSeverity)
}

func TestScreenSkipsCandidateItself(t *testing.T) {
	rules := testRules()
	rules.AddInteraction(medication.InteractionRule{
		MedicationA: "med-aspirin",
		MedicationB: "med-aspirin",
		Severity:    medication.SeverityContraindicated,
	})
	dir := &fakeDirectory{active: []*medication.Record{aspirin}}
	s := NewScreener(dir, rules, nil, nil)

	findings, decision, err := s.Screen(context.Background(), "res-1", aspirin)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.False(t, decision.Blocked)
}

func TestDecideContraindicationOutranksInteractionAtEqualSeverity(t *testing.T) {
	findings := []Finding{
		{Category: CategoryInteraction, Severity: medication.SeverityContraindicated},
		{Category: CategoryContraindication, Severity: medication.SeverityContraindicated},
	}
	d := decide(findings)
	assert.True(t, d.Blocked)
	require.NotNil(t, d.Worst)
	assert.Equal(t, CategoryContraindication, d.Worst.Category)
}

func TestDecideMaxSeverityWins(t *testing.T) {
	findings := []Finding{
		{Category: CategoryContraindication, Severity: medication.SeverityModerate},
		{Category: CategoryInteraction, Severity: medication.SeverityCaution},
	}
	d := decide(findings)
	assert.False(t, d.Blocked)
	assert.Equal(t, medication.SeverityCaution, d.MaxSeverity)
	assert.Equal(t, CategoryInteraction, d.Worst.Category)
}
