package detector

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hai-surveillance-server/internal/domain"
)

// Detection windows around the triggering event
const (
	cultureLookbackDays = 1
	cultureForwardDays  = 3
	ssiWindowDays       = 30
	cdiLookbackDays     = 14
)

// draft is a trigger that fired but has not yet been deduped against
// existing candidates
type draft struct {
	haiType     domain.HAIType
	trigger     domain.TriggerEvidence
	windowStart time.Time
	windowEnd   time.Time
	context     domain.ClinicalContext
	partial     bool
	missing     []string
}

func (d *draft) build(w *domain.PatientWindow) *domain.Candidate {
	return &domain.Candidate{
		ID:            uuid.New(),
		Type:          d.haiType,
		PatientID:     w.PatientID,
		EncounterID:   w.EncounterID,
		Triggers:      []domain.TriggerEvidence{d.trigger},
		WindowStart:   d.windowStart,
		WindowEnd:     d.windowEnd,
		Context:       d.context,
		PartialData:   d.partial,
		MissingFields: d.missing,
		CreatedAt:     time.Now().UTC(),
	}
}

func detectCLABSI(w *domain.PatientWindow) []*draft {
	sawDeviceData := false
	for _, ev := range w.Events {
		if ev.Type == domain.EventDeviceDay {
			sawDeviceData = true
			break
		}
	}

	var drafts []*draft
	for _, ev := range w.Events {
		if ev.Type != domain.EventCulture || ev.Attr(domain.AttrResult) != "positive" || ev.Attr(domain.AttrSpecimen) != "blood" {
			continue
		}
		days := deviceDays(w.Events, domain.DeviceCentralLine, ev.Timestamp)

		d := &draft{
			haiType: domain.CLABSI,
			trigger: domain.TriggerEvidence{
				Description: fmt.Sprintf("positive blood culture (%s) with central line day %d", ev.Attr(domain.AttrOrganism), days),
				ObservedAt:  ev.Timestamp,
			},
			windowStart: ev.Timestamp.AddDate(0, 0, -cultureLookbackDays),
			windowEnd:   ev.Timestamp.AddDate(0, 0, cultureForwardDays),
			context: domain.ClinicalContext{
				DeviceKind: domain.DeviceCentralLine,
				DeviceDays: days,
				Cultures:   culturesFromEvents(w.Events, "blood"),
			},
		}

		switch {
		case days >= 2:
		case !sawDeviceData:
			// Device feed missing entirely. Keep the candidate and flag it so
			// an incomplete feed never becomes a silent false negative.
			d.partial = true
			d.missing = []string{"device_days"}
		default:
			continue
		}
		drafts = append(drafts, d)
	}
	return drafts
}

func detectCAUTI(w *domain.PatientWindow) []*draft {
	var drafts []*draft
	for _, ev := range w.Events {
		if ev.Type != domain.EventCulture || ev.Attr(domain.AttrResult) != "positive" || ev.Attr(domain.AttrSpecimen) != "urine" {
			continue
		}
		days := deviceDays(w.Events, domain.DeviceUrinaryCatheter, ev.Timestamp)
		if days < 2 {
			continue
		}

		d := &draft{
			haiType: domain.CAUTI,
			trigger: domain.TriggerEvidence{
				Description: fmt.Sprintf("positive urine culture (%s) with urinary catheter day %d", ev.Attr(domain.AttrOrganism), days),
				ObservedAt:  ev.Timestamp,
			},
			windowStart: ev.Timestamp.AddDate(0, 0, -cultureLookbackDays),
			windowEnd:   ev.Timestamp.AddDate(0, 0, cultureForwardDays),
			context: domain.ClinicalContext{
				DeviceKind: domain.DeviceUrinaryCatheter,
				DeviceDays: days,
				Cultures:   culturesFromEvents(w.Events, "urine"),
			},
		}

		raw := ev.Attr(domain.AttrColonyCount)
		count, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil {
			d.partial = true
			d.missing = []string{"colony_count"}
		} else if count < 100_000 {
			continue
		}
		drafts = append(drafts, d)
	}
	return drafts
}

func detectVAE(w *domain.PatientWindow) []*draft {
	type setting struct {
		at   time.Time
		peep float64
		fio2 float64
	}
	var series []setting
	for _, ev := range w.Events {
		if ev.Type != domain.EventVentSetting {
			continue
		}
		peep, err1 := strconv.ParseFloat(ev.Attr(domain.AttrPEEPMin), 64)
		fio2, err2 := strconv.ParseFloat(ev.Attr(domain.AttrFiO2Min), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		series = append(series, setting{at: ev.Timestamp, peep: peep, fio2: fio2})
	}

	// Two calendar days of stable-or-improving settings establish the
	// baseline; a rise sustained for two days on top of it fires.
	for d := 2; d+1 < len(series); d++ {
		basePeep := minF(series[d-2].peep, series[d-1].peep)
		baseFio2 := minF(series[d-2].fio2, series[d-1].fio2)
		peepRise := minF(series[d].peep, series[d+1].peep) - basePeep
		fio2Rise := minF(series[d].fio2, series[d+1].fio2) - baseFio2
		if peepRise < 3 && fio2Rise < 0.20 {
			continue
		}
		return []*draft{{
			haiType: domain.VAE,
			trigger: domain.TriggerEvidence{
				Description: fmt.Sprintf("sustained ventilator deterioration (PEEP +%.1f, FiO2 +%.2f)", peepRise, fio2Rise),
				ObservedAt:  series[d].at,
			},
			windowStart: series[d-2].at,
			windowEnd:   series[d+1].at.AddDate(0, 0, cultureForwardDays),
			context: domain.ClinicalContext{
				DeviceKind: domain.DeviceVentilator,
				DeviceDays: len(series),
				VentCourse: &domain.VentCourse{
					VentDays:      len(series),
					BaselineDays:  2,
					PEEPRise:      peepRise,
					FiO2Rise:      fio2Rise,
					SustainedDays: 2,
				},
			},
		}}
	}
	return nil
}

func detectSSI(w *domain.PatientWindow) []*draft {
	var procs []domain.StructuredEvent
	for _, ev := range w.Events {
		if ev.Type == domain.EventProcedure {
			procs = append(procs, ev)
		}
	}
	if len(procs) == 0 {
		return nil
	}

	var drafts []*draft
	for _, ev := range w.Events {
		if ev.Type != domain.EventCulture || ev.Attr(domain.AttrResult) != "positive" || ev.Attr(domain.AttrSpecimen) != "wound" {
			continue
		}
		for _, proc := range procs {
			deadline := proc.Timestamp.AddDate(0, 0, ssiWindowDays)
			if ev.Timestamp.Before(proc.Timestamp) || ev.Timestamp.After(deadline) {
				continue
			}
			drafts = append(drafts, &draft{
				haiType: domain.SSI,
				trigger: domain.TriggerEvidence{
					Description: fmt.Sprintf("positive wound culture (%s) after procedure %s", ev.Attr(domain.AttrOrganism), proc.Value),
					ObservedAt:  ev.Timestamp,
				},
				windowStart: proc.Timestamp,
				windowEnd:   ev.Timestamp.AddDate(0, 0, cultureForwardDays),
				context: domain.ClinicalContext{
					Procedure: &domain.ProcedureRecord{
						Code:        proc.Value,
						WoundClass:  proc.Attr(domain.AttrWoundClass),
						PerformedAt: proc.Timestamp,
					},
					Cultures: culturesFromEvents(w.Events, "wound"),
				},
			})
			break
		}
	}
	return drafts
}

func detectCDI(w *domain.PatientWindow) []*draft {
	var drafts []*draft
	var priorPositive *time.Time
	for _, ev := range w.Events {
		if ev.Type != domain.EventCDITest {
			continue
		}
		if ev.Attr(domain.AttrResult) != "positive" {
			continue
		}
		at := ev.Timestamp

		if priorPositive != nil && priorPositive.After(at.AddDate(0, 0, -cdiLookbackDays)) {
			// Continuation of the episode already under evaluation.
			priorPositive = &at
			continue
		}

		historyComplete := !w.Start.After(at.AddDate(0, 0, -cdiLookbackDays))
		drafts = append(drafts, &draft{
			haiType: domain.CDI,
			trigger: domain.TriggerEvidence{
				Description: fmt.Sprintf("positive C. difficile test (%s)", ev.Attr(domain.AttrMethod)),
				ObservedAt:  at,
			},
			windowStart: at.AddDate(0, 0, -cultureLookbackDays),
			windowEnd:   at.AddDate(0, 0, cultureForwardDays),
			context: domain.ClinicalContext{
				CDITest: &domain.CDITestResult{
					Method:          ev.Attr(domain.AttrMethod),
					ResultAt:        at,
					PriorPositiveAt: priorPositive,
					HistoryComplete: historyComplete,
				},
			},
		})
		priorPositive = &at
	}
	return drafts
}

// deviceDays counts calendar days the device was recorded present up to and
// including the reference time
func deviceDays(events []domain.StructuredEvent, kind domain.DeviceKind, until time.Time) int {
	days := make(map[string]bool)
	for _, ev := range events {
		if ev.Type != domain.EventDeviceDay || domain.DeviceKind(ev.Value) != kind {
			continue
		}
		if ev.Timestamp.After(until) {
			continue
		}
		days[ev.Timestamp.Format("2006-01-02")] = true
	}
	return len(days)
}

func culturesFromEvents(events []domain.StructuredEvent, specimen string) []domain.CultureResult {
	var out []domain.CultureResult
	for _, ev := range events {
		if ev.Type != domain.EventCulture || ev.Attr(domain.AttrSpecimen) != specimen {
			continue
		}
		count, _ := strconv.ParseInt(ev.Attr(domain.AttrColonyCount), 10, 64)
		out = append(out, domain.CultureResult{
			Specimen:    specimen,
			Organism:    ev.Attr(domain.AttrOrganism),
			ColonyCount: count,
			Positive:    ev.Attr(domain.AttrResult) == "positive",
			CollectedAt: ev.Timestamp,
		})
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
