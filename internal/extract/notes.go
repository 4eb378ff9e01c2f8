package extract

import (
	"sort"

	"github.com/hai-surveillance-server/internal/domain"
)

// relevantNoteTypes maps each HAI type to the note categories worth sending
// to the model. Administrative and dietary notes never qualify.
var relevantNoteTypes = map[domain.HAIType][]domain.NoteType{
	domain.CLABSI: {domain.NoteProgress, domain.NoteIDConsult, domain.NoteNursing},
	domain.CAUTI:  {domain.NoteProgress, domain.NoteIDConsult, domain.NoteNursing},
	domain.VAE:    {domain.NoteProgress, domain.NoteRespiratory, domain.NoteIDConsult},
	domain.SSI:    {domain.NoteProgress, domain.NoteOperative, domain.NoteProcedure, domain.NoteIDConsult, domain.NoteNursing},
	domain.CDI:    {domain.NoteProgress, domain.NoteIDConsult, domain.NoteNursing},
}

// FilterNotes selects the notes relevant to a candidate: matching note
// types, timestamped inside the evaluation window, ordered chronologically
func FilterNotes(c *domain.Candidate, notes []domain.NoteRecord) []domain.NoteRecord {
	wanted := make(map[domain.NoteType]bool)
	for _, nt := range relevantNoteTypes[c.Type] {
		wanted[nt] = true
	}

	var out []domain.NoteRecord
	for _, n := range notes {
		if !wanted[n.Type] {
			continue
		}
		if n.Timestamp.Before(c.WindowStart) || n.Timestamp.After(c.WindowEnd) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// TruncateNotes enforces a character budget over a chronologically ordered
// note set by dropping the oldest notes first. The newest note is always
// kept, even when it alone exceeds the budget. A budget of zero or less
// disables truncation.
func TruncateNotes(notes []domain.NoteRecord, budget int) []domain.NoteRecord {
	if budget <= 0 || len(notes) == 0 {
		return notes
	}
	total := 0
	keepFrom := len(notes)
	for i := len(notes) - 1; i >= 0; i-- {
		total += len(notes[i].Text)
		if total > budget && i != len(notes)-1 {
			break
		}
		keepFrom = i
	}
	return notes[keepFrom:]
}
