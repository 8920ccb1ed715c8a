package dedupe

import (
	"slices"

	"github.com/sells-group/donor-import/internal/model"
)

// Index holds rows of the current file that will become new records, so
// later rows can match them. It is not safe for concurrent use.
type Index struct {
	rows    map[int]*Candidate
	byEmail map[string][]int
	byName  map[string][]int
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		rows:    make(map[int]*Candidate),
		byEmail: make(map[string][]int),
		byName:  make(map[string][]int),
	}
}

// Add records a cleaned row.
func (ix *Index) Add(row int, rec *model.CleaningResult) {
	c := FromCleaned(row, rec)
	ix.rows[row] = &c
	k := keyOf(c)
	if k.email != "" {
		ix.byEmail[k.email] = append(ix.byEmail[k.email], row)
	}
	if k.name != "" {
		ix.byName[k.name] = append(ix.byName[k.name], row)
	}
}

// Bind attaches the committed record id to a row.
func (ix *Index) Bind(row int, id string) {
	if c, ok := ix.rows[row]; ok {
		c.ID = id
	}
}

// Candidates returns indexed rows sharing the email or name of rec, in row
// order.
func (ix *Index) Candidates(rec *model.CleaningResult) []Candidate {
	k := keyOf(FromCleaned(0, rec))
	if k.email == "" && k.name == "" {
		return nil
	}
	seen := make(map[int]bool)
	var rows []int
	for _, list := range [][]int{ix.byEmail[k.email], ix.byName[k.name]} {
		for _, r := range list {
			if !seen[r] {
				seen[r] = true
				rows = append(rows, r)
			}
		}
	}
	slices.Sort(rows)
	out := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, *ix.rows[r])
	}
	return out
}

// Len returns the number of indexed rows.
func (ix *Index) Len() int { return len(ix.rows) }

// Query returns the normalized email and name key used to fetch stored
// candidates for rec.
func Query(rec *model.CleaningResult) (email, nameKey string) {
	k := keyOf(FromCleaned(0, rec))
	return k.email, k.name
}
