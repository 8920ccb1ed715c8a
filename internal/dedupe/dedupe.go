// Package dedupe finds likely duplicates of cleaned donor rows and decides
// what the import should do with each row.
package dedupe

import (
	"sort"
	"strings"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/normalize"
)

// Match reasons.
const (
	ReasonEmail   = "email matches"
	ReasonName    = "first and last name match"
	ReasonCity    = "same city"
	ReasonStudent = "same student"
)

// Candidate is a possible duplicate: a stored donor (ID set) or an earlier
// row of the same file (Row set, and ID once committed).
type Candidate struct {
	ID          string
	Row         int
	FirstName   string
	LastName    string
	Email       string
	City        string
	StudentName string
}

// FromDonor builds a Candidate from a stored donor.
func FromDonor(d model.Donor) Candidate {
	return Candidate{
		ID:          d.ID,
		FirstName:   d.FirstName,
		LastName:    d.LastName,
		Email:       d.Email,
		City:        d.City,
		StudentName: d.StudentName,
	}
}

// FromCleaned builds a Candidate from a cleaned row.
func FromCleaned(row int, c *model.CleaningResult) Candidate {
	return Candidate{
		Row:         row,
		FirstName:   c.Text(model.FieldFirstName),
		LastName:    c.Text(model.FieldLastName),
		Email:       c.Text(model.FieldEmail),
		City:        c.Text(model.FieldCity),
		StudentName: c.Text(model.FieldStudentName),
	}
}

type key struct {
	email string
	name  string
	city  string
	kid   string
}

func keyOf(c Candidate) key {
	k := key{
		email: normalize.Email(c.Email),
		city:  normalize.Name(c.City),
		kid:   normalize.Name(c.StudentName),
	}
	k.name = normalize.NameKey(c.FirstName, c.LastName)
	return k
}

// FindMatches compares a cleaned row against the candidate pool. Tier is
// decided in order: email match is exact; name plus same city or student is
// high; name alone is low. Results are ordered by tier, then record id, then
// source row.
func FindMatches(rec *model.CleaningResult, pool []Candidate) []model.DuplicateMatch {
	self := keyOf(FromCleaned(0, rec))
	if self.email == "" && self.name == "" {
		return nil
	}

	var out []model.DuplicateMatch
	seenID := make(map[string]bool)
	seenRow := make(map[int]bool)

	for _, cand := range pool {
		if cand.ID != "" {
			if seenID[cand.ID] {
				continue
			}
		} else if cand.Row > 0 && seenRow[cand.Row] {
			continue
		}

		other := keyOf(cand)
		emailMatch := self.email != "" && self.email == other.email
		nameMatch := self.name != "" && self.name == other.name
		if !emailMatch && !nameMatch {
			continue
		}

		var reasons []string
		if emailMatch {
			reasons = append(reasons, ReasonEmail)
		}
		var secondary bool
		if nameMatch {
			reasons = append(reasons, ReasonName)
			if self.city != "" && self.city == other.city {
				reasons = append(reasons, ReasonCity)
				secondary = true
			}
			if self.kid != "" && self.kid == other.kid {
				reasons = append(reasons, ReasonStudent)
				secondary = true
			}
		}

		tier := model.TierLow
		switch {
		case emailMatch:
			tier = model.TierExact
		case secondary:
			tier = model.TierHigh
		}

		if cand.ID != "" {
			seenID[cand.ID] = true
		}
		if cand.Row > 0 {
			seenRow[cand.Row] = true
		}
		out = append(out, model.DuplicateMatch{
			RecordID:  cand.ID,
			SourceRow: cand.Row,
			Tier:      tier,
			Reasons:   reasons,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() < b.Tier.Rank()
		}
		if a.RecordID != b.RecordID {
			return strings.Compare(a.RecordID, b.RecordID) < 0
		}
		return a.SourceRow < b.SourceRow
	})
	return out
}

// DeriveAction applies the import options to a row's matches:
//  1. no matches: create
//  2. skipDuplicates and any match: skip
//  3. updateExisting and an exact or high match: update
//  4. otherwise: needs-review
func DeriveAction(matches []model.DuplicateMatch, opts model.ImportOptions) model.Action {
	switch {
	case len(matches) == 0:
		return model.ActionCreate
	case opts.SkipDuplicates:
		return model.ActionSkip
	case opts.UpdateExisting:
		if _, ok := UpdateTarget(matches); ok {
			return model.ActionUpdate
		}
	}
	return model.ActionNeedsReview
}

// UpdateTarget returns the strongest exact or high match.
func UpdateTarget(matches []model.DuplicateMatch) (model.DuplicateMatch, bool) {
	for _, m := range matches {
		if m.Tier == model.TierExact || m.Tier == model.TierHigh {
			return m, true
		}
	}
	return model.DuplicateMatch{}, false
}
