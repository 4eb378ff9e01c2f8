package extract

import (
	"fmt"
	"strings"

	"github.com/hai-surveillance-server/internal/domain"
)

const triageSystemPrompt = `You are a clinical documentation analyst supporting infection surveillance.
Read the supplied notes and report only facts that are explicitly documented.
For every fact use exactly one of "present", "absent", or "unknown".
Use "unknown" whenever the notes do not address the fact. Never guess.
Respond with a single JSON object and nothing else.`

const fullSystemPrompt = triageSystemPrompt + `
This is a detailed second pass. For every fact you assert as present or
absent, include a short verbatim quote from the notes in "supporting_quotes".`

const factsSchema = `{
  "symptoms": {"fever": "...", "chills": "...", "hypotension": "...", "dysuria": "...", "suprapubic_tenderness": "...", "diarrhea": "...", "purulent_drainage": "...", "purulent_secretions": "..."},
  "alternate_source": "...",
  "alternate_source_site": "",
  "contamination_mentioned": "...",
  "device_site_finding": "...",
  "device_site_note": "",
  "organisms": [{"name": "", "site": ""}],
  "mbi_factors": "...",
  "impression": "",
  "impression_ambiguous": false,
  "doc_quality": "good|limited|poor",
  "supporting_quotes": [],
  "confidence": 0.0
}`

// focusByType steers the model toward the facts that matter for each HAI
// definition
var focusByType = map[domain.HAIType]string{
	domain.CLABSI: "Focus on bloodstream infection: fever, chills, hypotension, alternate infection sources, central line site findings, culture contamination remarks, and immunocompromise or mucosal barrier injury.",
	domain.CAUTI:  "Focus on urinary infection: fever, dysuria, suprapubic tenderness, catheter complaints, and alternate infection sources.",
	domain.VAE:    "Focus on respiratory deterioration: purulent secretions, fever, non-infectious explanations such as edema, ARDS, or atelectasis.",
	domain.SSI:    "Focus on the surgical site: purulent drainage, wound appearance, dehiscence, and alternate infection sources.",
	domain.CDI:    "Focus on bowel symptoms: new-onset diarrhea, stool frequency and consistency, laxative or tube-feed use, and prior C. difficile history.",
}

func buildPrompt(c *domain.Candidate, notes []domain.NoteRecord, stage domain.ExtractionStage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Surveillance question: possible %s for patient %s.\n", c.Type, c.PatientID)
	fmt.Fprintf(&b, "Evaluation window: %s to %s.\n", c.WindowStart.Format("2006-01-02"), c.WindowEnd.Format("2006-01-02"))
	for _, t := range c.Triggers {
		fmt.Fprintf(&b, "Trigger: %s (%s).\n", t.Description, t.ObservedAt.Format("2006-01-02"))
	}
	b.WriteString(focusByType[c.Type])
	b.WriteString("\n\nClinical notes:\n")

	for _, n := range notes {
		fmt.Fprintf(&b, "--- %s note, %s, %s ---\n%s\n", n.Type, n.Timestamp.Format("2006-01-02 15:04"), n.AuthorRole, n.Text)
	}

	b.WriteString("\nRespond with JSON matching this schema:\n")
	b.WriteString(factsSchema)
	if stage == domain.StageFull {
		b.WriteString("\nInclude supporting quotes for every asserted fact.")
	}
	return b.String()
}
