package domain

// TriState is a three-valued fact assertion extracted from clinical notes.
// Missing or unparseable model output always maps to TriUnknown; it is never
// collapsed into TriAbsent, which preserves the "unknown is not 'not met'"
// invariant downstream.
type TriState string

const (
	TriPresent TriState = "present"
	TriAbsent  TriState = "absent"
	TriUnknown TriState = "unknown"
)

// Valid reports whether the value is one of the three recognized states
func (t TriState) Valid() bool {
	switch t {
	case TriPresent, TriAbsent, TriUnknown:
		return true
	}
	return false
}

// Known reports whether the fact was positively asserted either way
func (t TriState) Known() bool {
	return t == TriPresent || t == TriAbsent
}

// DocQuality grades how well the notes document the clinical course
type DocQuality string

const (
	DocGood    DocQuality = "good"
	DocLimited DocQuality = "limited"
	DocPoor    DocQuality = "poor"
)

// OrganismMention is one organism named in the notes
type OrganismMention struct {
	Name string `json:"name"`
	// Site is where the organism was attributed, when stated.
	Site string `json:"site,omitempty"`
}

// FactSet is the schema-validated, immutable value object handed from the
// fact extractor to the rules engine. The engine accepts only this type,
// never raw note text or model handles, which enforces the boundary between
// stochastic extraction and deterministic classification.
type FactSet struct {
	// Symptoms maps symptom keys (fever, chills, hypotension, dysuria,
	// suprapubic_tenderness, diarrhea, purulent_drainage, purulent_secretions)
	// to tri-state assertions. Absent keys read as unknown.
	Symptoms map[string]TriState `json:"symptoms,omitempty"`

	AlternateSource     TriState `json:"alternate_source"`
	AlternateSourceSite string   `json:"alternate_source_site,omitempty"`

	ContaminationMentioned TriState `json:"contamination_mentioned"`

	DeviceSiteFinding TriState `json:"device_site_finding"`
	DeviceSiteNote    string   `json:"device_site_note,omitempty"`

	Organisms []OrganismMention `json:"organisms,omitempty"`

	// MBIFactors flags immunocompromise / mucosal-barrier-injury factors
	// that switch rule evaluation to the MBI-linked criteria variants.
	MBIFactors TriState `json:"mbi_factors"`

	Impression          string `json:"impression,omitempty"`
	ImpressionAmbiguous bool   `json:"impression_ambiguous,omitempty"`

	DocQuality DocQuality `json:"doc_quality,omitempty"`

	// SupportingQuotes carries verbatim note excerpts backing the asserted
	// facts. Populated by the full stage only.
	SupportingQuotes []string `json:"supporting_quotes,omitempty"`
}

// Symptom returns the tri-state assertion for a symptom key, treating a
// missing entry as unknown
func (f *FactSet) Symptom(key string) TriState {
	if f.Symptoms == nil {
		return TriUnknown
	}
	if v, ok := f.Symptoms[key]; ok && v.Valid() {
		return v
	}
	return TriUnknown
}

// AnySymptom returns present if any listed symptom is present, absent if all
// are positively absent, and unknown otherwise
func (f *FactSet) AnySymptom(keys ...string) TriState {
	allAbsent := len(keys) > 0
	for _, k := range keys {
		switch f.Symptom(k) {
		case TriPresent:
			return TriPresent
		case TriUnknown:
			allAbsent = false
		}
	}
	if allAbsent {
		return TriAbsent
	}
	return TriUnknown
}

// Normalize coerces any out-of-range values to unknown so a fact set built
// from model output is always safe to hand to the rules engine
func (f *FactSet) Normalize() {
	for k, v := range f.Symptoms {
		if !v.Valid() {
			f.Symptoms[k] = TriUnknown
		}
	}
	if !f.AlternateSource.Valid() {
		f.AlternateSource = TriUnknown
	}
	if !f.ContaminationMentioned.Valid() {
		f.ContaminationMentioned = TriUnknown
	}
	if !f.DeviceSiteFinding.Valid() {
		f.DeviceSiteFinding = TriUnknown
	}
	if !f.MBIFactors.Valid() {
		f.MBIFactors = TriUnknown
	}
	switch f.DocQuality {
	case DocGood, DocLimited, DocPoor:
	default:
		f.DocQuality = DocLimited
	}
}

// Symptom keys recognized by the extraction schema and the rule sets
const (
	SymptomFever              = "fever"
	SymptomChills             = "chills"
	SymptomHypotension        = "hypotension"
	SymptomDysuria            = "dysuria"
	SymptomSuprapubicPain     = "suprapubic_tenderness"
	SymptomDiarrhea           = "diarrhea"
	SymptomPurulentDrainage   = "purulent_drainage"
	SymptomPurulentSecretions = "purulent_secretions"
)
