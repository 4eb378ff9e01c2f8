package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hai-surveillance-server/internal/domain"
)

// Source is an in-memory domain.DataSource fed by submitted patient windows.
// Site integrations push structured events and notes here; the detector and
// extractor read them back filtered by encounter and time range.
type Source struct {
	mu      sync.RWMutex
	windows map[string][]*submission
}

type submission struct {
	window domain.PatientWindow
	notes  []domain.NoteRecord
}

// NewSource creates an empty ingest source
func NewSource() *Source {
	return &Source{windows: make(map[string][]*submission)}
}

var _ domain.DataSource = (*Source)(nil)

// Put stores a patient window and its notes for later retrieval
func (s *Source) Put(w *domain.PatientWindow, notes []domain.NoteRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(w.PatientID, w.EncounterID)
	s.windows[key] = append(s.windows[key], &submission{
		window: *w,
		notes:  append([]domain.NoteRecord(nil), notes...),
	})
}

// Events returns stored structured events for the encounter inside
// [start, end], in timestamp order
func (s *Source) Events(_ context.Context, patientID, encounterID string, start, end time.Time) ([]domain.StructuredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []domain.StructuredEvent
	for _, sub := range s.windows[s.key(patientID, encounterID)] {
		for _, e := range sub.window.Events {
			if inRange(e.Timestamp, start, end) {
				events = append(events, e)
			}
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// Notes returns stored clinical notes for the encounter inside [start, end],
// in timestamp order
func (s *Source) Notes(_ context.Context, patientID, encounterID string, start, end time.Time) ([]domain.NoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var notes []domain.NoteRecord
	for _, sub := range s.windows[s.key(patientID, encounterID)] {
		for _, n := range sub.notes {
			if inRange(n.Timestamp, start, end) {
				notes = append(notes, n)
			}
		}
	}
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].Timestamp.Before(notes[j].Timestamp)
	})
	return notes, nil
}

func (s *Source) key(patientID, encounterID string) string {
	return patientID + "|" + encounterID
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
