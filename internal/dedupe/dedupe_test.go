package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/donor-import/internal/model"
)

func cleaned(fields map[model.TargetField]any) *model.CleaningResult {
	return &model.CleaningResult{Fields: fields}
}

var maria = cleaned(map[model.TargetField]any{
	model.FieldFirstName:   "Maria",
	model.FieldLastName:    "López",
	model.FieldEmail:       "maria@example.org",
	model.FieldCity:        "Springfield",
	model.FieldStudentName: "Ana Lopez",
})

func TestFindMatches_Tiers(t *testing.T) {
	pool := []Candidate{
		{ID: "d-low", FirstName: "maria", LastName: "lopez", City: "Shelbyville"},
		{ID: "d-exact", FirstName: "M", LastName: "L", Email: "MARIA@example.org"},
		{ID: "d-high", FirstName: "Maria", LastName: "Lopez", City: "springfield"},
		{ID: "d-none", FirstName: "Mario", LastName: "Lopez", Email: "mario@example.org"},
		{ID: "d-kid", FirstName: "Maria", LastName: "Lopez", StudentName: "ana  lopez"},
	}

	got := FindMatches(maria, pool)
	require.Len(t, got, 4)

	assert.Equal(t, "d-exact", got[0].RecordID)
	assert.Equal(t, model.TierExact, got[0].Tier)
	assert.Equal(t, []string{ReasonEmail}, got[0].Reasons)

	assert.Equal(t, "d-high", got[1].RecordID)
	assert.Equal(t, model.TierHigh, got[1].Tier)
	assert.Equal(t, []string{ReasonName, ReasonCity}, got[1].Reasons)

	assert.Equal(t, "d-kid", got[2].RecordID)
	assert.Equal(t, model.TierHigh, got[2].Tier)
	assert.Equal(t, []string{ReasonName, ReasonStudent}, got[2].Reasons)

	assert.Equal(t, "d-low", got[3].RecordID)
	assert.Equal(t, model.TierLow, got[3].Tier)
}

func TestFindMatches_EmailAndNameRecordsBothReasons(t *testing.T) {
	got := FindMatches(maria, []Candidate{{ID: "d1", FirstName: "Maria", LastName: "Lopez", Email: "maria@example.org", City: "Springfield"}})
	require.Len(t, got, 1)
	assert.Equal(t, model.TierExact, got[0].Tier)
	assert.Equal(t, []string{ReasonEmail, ReasonName, ReasonCity}, got[0].Reasons)
}

func TestFindMatches_NoSignals(t *testing.T) {
	assert.Empty(t, FindMatches(cleaned(map[model.TargetField]any{model.FieldFirstName: "Cher"}), []Candidate{{ID: "x", FirstName: "Cher"}}))
	assert.Empty(t, FindMatches(maria, nil))
}

func TestFindMatches_DuplicateCandidatesCollapse(t *testing.T) {
	pool := []Candidate{
		{ID: "d1", Email: "maria@example.org"},
		{ID: "d1", Row: 2, Email: "maria@example.org"},
		{Row: 3, Email: "maria@example.org"},
		{Row: 3, Email: "maria@example.org"},
	}
	got := FindMatches(maria, pool)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].SourceRow)
	assert.Equal(t, "d1", got[1].RecordID)
}

func TestFindMatches_Deterministic(t *testing.T) {
	pool := []Candidate{
		{ID: "b", FirstName: "Maria", LastName: "Lopez"},
		{ID: "a", FirstName: "Maria", LastName: "Lopez"},
	}
	first := FindMatches(maria, pool)
	reversed := FindMatches(maria, []Candidate{pool[1], pool[0]})
	assert.Equal(t, first, reversed)
	assert.Equal(t, "a", first[0].RecordID)
}

func TestDeriveAction(t *testing.T) {
	exact := []model.DuplicateMatch{{RecordID: "d1", Tier: model.TierExact}}
	high := []model.DuplicateMatch{{RecordID: "d1", Tier: model.TierHigh}}
	low := []model.DuplicateMatch{{RecordID: "d1", Tier: model.TierLow}}

	tests := []struct {
		name    string
		matches []model.DuplicateMatch
		opts    model.ImportOptions
		want    model.Action
	}{
		{"no matches", nil, model.ImportOptions{SkipDuplicates: true, UpdateExisting: true}, model.ActionCreate},
		{"skip wins over update", exact, model.ImportOptions{SkipDuplicates: true, UpdateExisting: true}, model.ActionSkip},
		{"skip low", low, model.ImportOptions{SkipDuplicates: true}, model.ActionSkip},
		{"update exact", exact, model.ImportOptions{UpdateExisting: true}, model.ActionUpdate},
		{"update high", high, model.ImportOptions{UpdateExisting: true}, model.ActionUpdate},
		{"low never auto-applied", low, model.ImportOptions{UpdateExisting: true}, model.ActionNeedsReview},
		{"defaults review", exact, model.ImportOptions{}, model.ActionNeedsReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveAction(tt.matches, tt.opts))
		})
	}
}

func TestUpdateTarget(t *testing.T) {
	m, ok := UpdateTarget([]model.DuplicateMatch{{RecordID: "a", Tier: model.TierLow}, {SourceRow: 4, Tier: model.TierHigh}})
	require.True(t, ok)
	assert.Equal(t, 4, m.SourceRow)

	_, ok = UpdateTarget([]model.DuplicateMatch{{Tier: model.TierLow}})
	assert.False(t, ok)
}

func TestIndex(t *testing.T) {
	ix := NewIndex()
	ix.Add(2, cleaned(map[model.TargetField]any{model.FieldFirstName: "Ann", model.FieldLastName: "Lee", model.FieldEmail: "ann@x.org"}))
	ix.Add(5, cleaned(map[model.TargetField]any{model.FieldFirstName: "Bo", model.FieldLastName: "Ray"}))
	assert.Equal(t, 2, ix.Len())

	probe := cleaned(map[model.TargetField]any{model.FieldFirstName: "ann", model.FieldLastName: "LEE", model.FieldEmail: "ANN@x.org"})
	cands := ix.Candidates(probe)
	require.Len(t, cands, 1)
	assert.Equal(t, 2, cands[0].Row)
	assert.Empty(t, cands[0].ID)

	ix.Bind(2, "d-42")
	ix.Bind(99, "ignored")
	matches := FindMatches(probe, ix.Candidates(probe))
	require.Len(t, matches, 1)
	assert.Equal(t, "d-42", matches[0].RecordID)
	assert.Equal(t, 2, matches[0].SourceRow)
	assert.Equal(t, model.TierExact, matches[0].Tier)

	assert.Empty(t, ix.Candidates(cleaned(map[model.TargetField]any{model.FieldNotes: "x"})))
}

func TestQuery(t *testing.T) {
	email, name := Query(maria)
	assert.Equal(t, "maria@example.org", email)
	assert.Equal(t, "maria|lopez", name)
}
