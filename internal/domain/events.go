package domain

import "time"

// EventType categorizes a structured clinical event from the data access
// adapter
type EventType string

const (
	// EventDeviceDay marks one calendar day of device presence; Value holds
	// the device kind.
	EventDeviceDay EventType = "device_day"

	// EventCulture is a microbiology result; attributes carry specimen,
	// organism and result.
	EventCulture EventType = "culture"

	// EventCDITest is a C. difficile assay result.
	EventCDITest EventType = "cdi_test"

	// EventProcedure is an operative procedure record.
	EventProcedure EventType = "procedure"

	// EventVentSetting carries daily minimum ventilator settings; attributes
	// hold peep_min and fio2_min.
	EventVentSetting EventType = "vent_setting"
)

// Well-known attribute keys on structured events
const (
	AttrSpecimen    = "specimen"
	AttrOrganism    = "organism"
	AttrResult      = "result"
	AttrColonyCount = "colony_count"
	AttrMethod      = "method"
	AttrWoundClass  = "wound_class"
	AttrPEEPMin     = "peep_min"
	AttrFiO2Min     = "fio2_min"
)

// StructuredEvent is one typed, timestamped event from the structured-data
// source
type StructuredEvent struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Value     string            `json:"value,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Attr returns the named attribute, or "" when absent
func (e StructuredEvent) Attr(key string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[key]
}

// PatientWindow is a time-bounded set of structured events for one patient
// encounter. Events must be ordered by timestamp; the detector rejects
// unordered input.
type PatientWindow struct {
	PatientID   string            `json:"patient_id"`
	EncounterID string            `json:"encounter_id"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Events      []StructuredEvent `json:"events"`
}

// NoteType categorizes a clinical note record
type NoteType string

const (
	NoteProgress       NoteType = "progress"
	NoteIDConsult      NoteType = "id_consult"
	NoteProcedure      NoteType = "procedure"
	NoteOperative      NoteType = "operative"
	NoteRespiratory    NoteType = "respiratory"
	NoteNursing        NoteType = "nursing"
	NoteAdministrative NoteType = "administrative"
	NoteDietary        NoteType = "dietary"
)

// NoteRecord is one free-text clinical note attached to an encounter
type NoteRecord struct {
	ID         string    `json:"id"`
	Type       NoteType  `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	AuthorRole string    `json:"author_role,omitempty"`
	Text       string    `json:"text"`
}
