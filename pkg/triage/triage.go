// Package triage implements the rule-based urgency assessor (C2, spec.md
// §4.2): symptom/free-text input maps to an urgency level, a risk score,
// and a recommended action. Grounded on
// original_source/.../gesundheit/triage.py (keyword catalogues, scoring
// constants, urgency thresholds carried verbatim) plus handwerk/triage.py
// and freie_berufe/triage.py for the additional industry catalogues
// (spec.md's distillation dropped the non-healthcare catalogues; carrying
// them is a supplement per the original_source, not a new algorithm).
package triage

import (
	"fmt"
	"strings"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// UrgencyLevel follows the German ambulatory-care triage vocabulary
// (KBV Bereitschaftsdienst-Triage), carried verbatim from
// original_source/.../gesundheit/triage.py.
type UrgencyLevel string

const (
	Emergency   UrgencyLevel = "emergency"    // Sofort: 112 rufen
	VeryUrgent  UrgencyLevel = "very_urgent"  // Sehr dringend: < 10 min
	Urgent      UrgencyLevel = "urgent"       // Dringend: < 30 min
	Standard    UrgencyLevel = "standard"     // Normal: < 90 min
	NonUrgent   UrgencyLevel = "non_urgent"   // Nicht dringend: Regeltermin
)

// Symptom is one reported symptom with the modifiers the scoring formula
// consumes (spec.md §4.2 step 2).
type Symptom struct {
	Name           string
	Severity       int // 1-10
	Worsening      bool
	FeverC         float64 // 0 means "not reported"
	PainLevel      int     // 1-10, 0 means "not reported"
	DurationHours  float64
}

// PatientContext carries the risk-multiplier inputs of spec.md §4.2 step 4.
type PatientContext struct {
	Age                int // 0 means "unknown"
	Pregnant           bool
	Diabetic           bool
	Immunocompromised  bool
	HeartCondition     bool
}

// riskMultiplier computes the patient risk multiplier, composed
// multiplicatively and clamped at 2.5x, per spec.md §4.2 step 4.
func (p PatientContext) riskMultiplier() float64 {
	m := 1.0
	if p.Age > 0 {
		switch {
		case p.Age < 2 || p.Age > 75:
			m *= 1.5
		case p.Age > 65:
			m *= 1.2
		}
	}
	if p.Pregnant {
		m *= 1.3
	}
	if p.Diabetic {
		m *= 1.2
	}
	if p.Immunocompromised {
		m *= 1.5
	}
	if p.HeartCondition {
		m *= 1.3
	}
	if m > 2.5 {
		m = 2.5
	}
	return m
}

// Input is the triage assessor's single request shape.
type Input struct {
	Symptoms []Symptom
	Patient  PatientContext
	FreeText string
}

// Result is the value object returned by Assess; it never mutates global
// state (spec.md §4.2).
type Result struct {
	Urgency            UrgencyLevel
	RiskScore          float64 // 0-100 (100 reserved for emergencies)
	PrimaryConcern     string
	RecommendedAction  string
	MaxWaitMinutes     *int // nil means "no cap" (NonUrgent)
	RequiresCallback   bool
	RequiresDoctor     bool
	EmergencySymptoms  []string
	SafetyInstructions []string
	AssessmentNotes    []string
}

// KeywordCatalogue is a named set of emergency/urgent keyword patterns for
// one industry. gesundheit's catalogue is the spec's reference; Handwerk
// and FreieBerufe catalogues are carried from original_source as an
// enrichment the distillation dropped.
type KeywordCatalogue struct {
	Name              string
	EmergencyPatterns map[string][]string
	UrgentPatterns    map[string][]string
}

// Gesundheit is the healthcare industry's keyword catalogue, carried
// verbatim from original_source/.../gesundheit/triage.py.
var Gesundheit = KeywordCatalogue{
	Name: "gesundheit",
	EmergencyPatterns: map[string][]string{
		"chest_pain": {
			"brustschmerz", "brustdruck", "engegefühl brust",
			"herzschmerz", "stechen brust", "brennen brust",
		},
		"breathing_difficulty": {
			"atemnot", "kurzatmig", "kann nicht atmen",
			"luftnot", "ersticken", "atemprobleme",
		},
		"stroke_symptoms": {
			"lähmung", "taubheit gesicht", "arm schwäche",
			"sprachstörung", "verwirrung plötzlich", "sehen verschwommen",
		},
		"severe_bleeding": {
			"starke blutung", "blut nicht stoppen",
			"große wunde", "viel blut",
		},
		"unconsciousness": {
			"bewusstlos", "ohnmacht", "nicht ansprechbar",
			"zusammengebrochen",
		},
		"severe_allergic": {
			"allergischer schock", "anaphylaxie", "geschwollene zunge",
			"kann nicht schlucken", "ausschlag ganzer körper",
		},
		"severe_pain": {
			"unerträgliche schmerzen", "stärkste schmerzen",
			"schlimmste schmerzen meines lebens",
		},
	},
	UrgentPatterns: map[string][]string{
		"high_fever": {
			"hohes fieber", "über 39 grad", "fieber kind",
			"schüttelfrost", "fieber seit tagen",
		},
		"acute_pain": {
			"starke schmerzen", "akute schmerzen", "plötzliche schmerzen",
		},
		"vomiting": {
			"erbrechen", "kann nichts bei mir behalten", "übelkeit stark",
		},
		"injury": {
			"verletzung", "unfall", "sturz", "gebrochen",
		},
		"infection_signs": {
			"eitrig", "entzündet", "geschwollen rot", "heiß und rot",
		},
	},
}

// Handwerk is the trades industry's keyword catalogue, carried from
// original_source/.../handwerk/triage.py (gas leak, water main break,
// electrical fire, structural danger, locked-in-danger).
var Handwerk = KeywordCatalogue{
	Name: "handwerk",
	EmergencyPatterns: map[string][]string{
		"gas_leak": {
			"gasgeruch", "gasleck", "gas riecht", "gasaustritt", "gas strömt",
			"riecht nach gas", "zischen gas", "gaswarnmelder",
		},
		"water_main_break": {
			"wasserrohrbruch", "rohr geplatzt", "rohr ist geplatzt", "wasser spritzt",
			"hauptleitung", "überschwemmung", "wasser läuft unkontrolliert",
		},
		"electrical_fire": {
			"kabel brennt", "steckdose raucht", "elektrobrand", "kurzschluss",
			"funken sprühen", "qualm steckdose", "brandgeruch elektrik",
			"kurzschluss mit funken", "brennt am stromkasten",
		},
		"structural_danger": {
			"decke stürzt", "einsturz", "riss wand groß",
			"statik gefahr", "wand bewegt",
		},
		"locked_in_danger": {
			"kind eingesperrt", "baby allein", "herd an eingesperrt",
			"person eingeschlossen gefahr", "hilfe eingesperrt",
		},
	},
	UrgentPatterns: map[string][]string{
		"toilet_blocked": {
			"toilette verstopft", "wc verstopft", "klo geht nicht",
			"abfluss verstopft", "komplett verstopft",
		},
		"no_hot_water": {
			"kein warmwasser", "boiler kaputt", "therme defekt",
			"durchlauferhitzer funktioniert nicht",
		},
		"heating_problems": {
			"heizung funktioniert nicht richtig", "heizung macht geräusche",
			"heizkörper wird nicht warm",
		},
		"electrical_issues": {
			"steckdose funktioniert nicht", "sicherung fliegt raus",
			"fi schalter",
		},
	},
}

// FreieBerufe is the professional-services industry's keyword catalogue,
// carried from original_source/.../freie_berufe/triage.py. The original
// does not carry a distinct "emergency" bucket for this industry; urgent
// deadline/legal patterns are modeled as urgent-tier only.
var FreieBerufe = KeywordCatalogue{
	Name:              "freie_berufe",
	EmergencyPatterns: map[string][]string{},
	UrgentPatterns: map[string][]string{
		"deadline_today": {
			"frist heute", "termin läuft heute ab", "muss heute noch",
		},
		"legal_urgency": {
			"gerichtstermin morgen", "einstweilige verfügung", "fristversäumnis",
		},
		"financial_urgency": {
			"kontopfändung", "mahnbescheid", "insolvenzantrag",
		},
	},
}

// Assessor scans free text against a KeywordCatalogue and scores symptoms
// per spec.md §4.2. Assessor holds no mutable state; Assess is a pure
// function of its Input plus the configured catalogue.
type Assessor struct {
	catalogue KeywordCatalogue
}

// NewAssessor builds an Assessor for one industry's keyword catalogue.
func NewAssessor(catalogue KeywordCatalogue) *Assessor {
	return &Assessor{catalogue: catalogue}
}

// Assess performs the triage assessment described in spec.md §4.2.
// Fails with domain.ErrInvalidInput only when both Symptoms and FreeText
// are empty.
func (a *Assessor) Assess(in Input) (Result, error) {
	if len(in.Symptoms) == 0 && strings.TrimSpace(in.FreeText) == "" {
		return Result{}, fmt.Errorf("triage: %w: at least one of symptoms or free_text is required",
			domain.ErrInvalidInput)
	}

	// Step 1: emergency keyword scan.
	var emergencyFound []string
	var safety []string
	if in.FreeText != "" {
		lower := strings.ToLower(in.FreeText)
		for pattern, keywords := range a.catalogue.EmergencyPatterns {
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					emergencyFound = append(emergencyFound, pattern+": "+kw)
					safety = append(safety, safetyInstructionFor(pattern))
				}
			}
		}
	}
	if len(emergencyFound) > 0 {
		return Result{
			Urgency:            Emergency,
			RiskScore:          100,
			PrimaryConcern:     strings.SplitN(emergencyFound[0], ":", 2)[0],
			RecommendedAction:  "Bitte rufen Sie sofort den Notruf 112 an oder lassen Sie sich in die nächste Notaufnahme bringen.",
			MaxWaitMinutes:     intPtr(0),
			RequiresDoctor:     true,
			EmergencySymptoms:  emergencyFound,
			SafetyInstructions: dedupe(safety),
			AssessmentNotes:    []string{"Notfall erkannt - sofortige medizinische Hilfe erforderlich"},
		}, nil
	}

	// Step 2: base score from symptom severity plus modifiers.
	base := 0.0
	primaryConcern := "Allgemeine Beschwerden"
	var notes []string
	if len(in.Symptoms) > 0 {
		sum := 0
		mostSevere := in.Symptoms[0]
		for _, s := range in.Symptoms {
			sum += s.Severity
			if s.Severity > mostSevere.Severity {
				mostSevere = s
			}
		}
		base = float64(sum) / float64(len(in.Symptoms)) * 10
		primaryConcern = mostSevere.Name

		for _, s := range in.Symptoms {
			if s.Worsening {
				base += 10
				notes = append(notes, s.Name+" verschlechtert sich")
			}
			if s.FeverC >= 39.5 {
				base += 20
				notes = append(notes, fmt.Sprintf("Hohes Fieber: %.1f°C", s.FeverC))
			} else if s.FeverC >= 38.5 {
				base += 10
			}
			if s.PainLevel >= 8 {
				base += 15
				notes = append(notes, fmt.Sprintf("Starke Schmerzen: %d/10", s.PainLevel))
			}
			if s.DurationHours > 72 {
				base += 5
				notes = append(notes, "Symptome bestehen seit über 3 Tagen")
			}
		}
	}

	// Step 3: urgent keyword scan.
	urgentFound := false
	if in.FreeText != "" {
		lower := strings.ToLower(in.FreeText)
	outer:
		for pattern, keywords := range a.catalogue.UrgentPatterns {
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					urgentFound = true
					base += 15
					notes = append(notes, "Dringend: "+pattern)
					break outer
				}
			}
		}
	}

	// Step 4: patient risk multiplier, clamped at 2.5x.
	mult := in.Patient.riskMultiplier()
	final := base * mult
	if final > 99 {
		final = 99 // reserve 100 for emergencies
	}
	if mult > 1.0 {
		notes = append(notes, fmt.Sprintf("Risikopatient (Faktor: %.1f)", mult))
	}

	// Step 5: map to urgency level.
	urgency, maxWait, action := classify(final, urgentFound)

	return Result{
		Urgency:           urgency,
		RiskScore:         round1(final),
		PrimaryConcern:    primaryConcern,
		RecommendedAction: action,
		MaxWaitMinutes:    maxWait,
		RequiresCallback:  urgency == Urgent || urgency == VeryUrgent,
		RequiresDoctor:    final >= 50,
		AssessmentNotes:   notes,
	}, nil
}

// classify maps a clamped score to an urgency level, max-wait cap, and
// recommended action, per spec.md §4.2 step 5.
func classify(score float64, urgentPattern bool) (UrgencyLevel, *int, string) {
	switch {
	case score >= 80:
		return VeryUrgent, intPtr(10), "Bitte kommen Sie umgehend in die Praxis. Wir informieren den Arzt."
	case score >= 60 || urgentPattern:
		return Urgent, intPtr(30), "Wir geben Ihnen einen dringenden Termin für heute. Bitte kommen Sie so bald wie möglich."
	case score >= 40:
		return Standard, intPtr(90), "Wir können Ihnen einen Termin für heute oder morgen anbieten."
	default:
		return NonUrgent, nil, "Für Ihre Beschwerden können wir einen regulären Termin vereinbaren."
	}
}

func safetyInstructionFor(pattern string) string {
	switch pattern {
	case "chest_pain", "breathing_difficulty":
		return "Setzen Sie sich aufrecht hin und bleiben Sie ruhig, bis Hilfe eintrifft."
	case "stroke_symptoms":
		return "Merken Sie sich die Uhrzeit des Symptombeginns für die Rettungskräfte."
	case "severe_bleeding":
		return "Üben Sie festen Druck auf die Wunde aus."
	case "unconsciousness":
		return "Prüfen Sie die Atmung und bringen Sie die Person in die stabile Seitenlage."
	case "severe_allergic":
		return "Falls vorhanden, verwenden Sie einen Adrenalin-Autoinjektor."
	case "gas_leak":
		return "Verlassen Sie sofort das Gebäude, zünden Sie nichts an, rufen Sie von draußen an."
	case "electrical_fire":
		return "Schalten Sie den Strom am Sicherungskasten ab, falls gefahrlos möglich."
	default:
		return "Bleiben Sie ruhig und befolgen Sie die Anweisungen der Rettungskräfte."
	}
}

func intPtr(v int) *int { return &v }

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
