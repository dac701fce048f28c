// Package districts holds the fixed Sri Lankan district reference data used by the hazard analyzers.
package districts

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var all = []string{
	"Colombo", "Gampaha", "Kalutara", "Kandy", "Matale", "Nuwara Eliya",
	"Galle", "Matara", "Hambantota", "Jaffna", "Kilinochchi", "Mannar",
	"Mullaitivu", "Vavuniya", "Batticaloa", "Ampara", "Trincomalee",
	"Kurunegala", "Puttalam", "Anuradhapura", "Polonnaruwa",
	"Badulla", "Monaragala", "Ratnapura", "Kegalle",
}

var floodProne = []string{"Colombo", "Gampaha", "Kalutara", "Ratnapura", "Kegalle", "Galle"}

var landslideProne = []string{"Kandy", "Matale", "Nuwara Eliya", "Ratnapura", "Kegalle", "Badulla"}

var coastal = []string{"Colombo", "Gampaha", "Kalutara", "Galle", "Matara", "Hambantota"}

var affectedAreas = map[string][]string{
	"colombo":      {"Colombo City", "Dehiwala-Mount Lavinia", "Kolonnawa", "Kaduwela"},
	"gampaha":      {"Negombo", "Ja-Ela", "Wattala", "Kelaniya"},
	"kalutara":     {"Panadura", "Horana", "Beruwala", "Matugama"},
	"kandy":        {"Kandy City", "Peradeniya", "Gampola", "Katugastota"},
	"matale":       {"Matale Town", "Dambulla", "Rattota"},
	"nuwara eliya": {"Nuwara Eliya Town", "Hatton", "Walapane", "Kotagala"},
	"galle":        {"Galle Fort", "Hikkaduwa", "Ambalangoda", "Baddegama"},
	"ratnapura":    {"Ratnapura Town", "Balangoda", "Eheliyagoda", "Kuruwita"},
	"kegalle":      {"Kegalle Town", "Mawanella", "Warakapola", "Aranayake"},
	"badulla":      {"Badulla Town", "Bandarawela", "Haputale", "Welimada"},
	"matara":       {"Matara Town", "Weligama", "Akuressa"},
	"hambantota":   {"Hambantota Town", "Tangalle", "Tissamaharama"},
	"trincomalee":  {"Trincomalee Town", "Kinniya", "Muttur"},
	"batticaloa":   {"Batticaloa Town", "Kattankudy", "Eravur"},
	"jaffna":       {"Jaffna Town", "Point Pedro", "Chavakachcheri"},
}

// All returns the supported districts in reference order.
func All() []string {
	out := make([]string, len(all))
	copy(out, all)
	return out
}

// Known reports whether name is a supported district, ignoring case.
func Known(name string) bool {
	return contains(all, name)
}

// FloodProne reports whether the district is in the fixed flood-prone set.
func FloodProne(name string) bool {
	return contains(floodProne, name)
}

// LandslideProne reports whether the district is in the fixed landslide-prone set.
func LandslideProne(name string) bool {
	return contains(landslideProne, name)
}

// Coastal reports whether the district borders the sea.
func Coastal(name string) bool {
	return contains(coastal, name)
}

// AffectedAreas returns the sub-areas for a district, or a generic pair when the district has no entry.
func AffectedAreas(district string) []string {
	key := strings.ToLower(strings.TrimSpace(district))
	if areas, ok := affectedAreas[key]; ok {
		out := make([]string, len(areas))
		copy(out, areas)
		return out
	}
	d := strings.TrimSpace(district)
	return []string{d + " Central", d + " Suburbs"}
}

// Canonical trims, collapses inner whitespace and title-cases a district name.
// A Caser is stateful, so one is built per call.
func Canonical(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return cases.Title(language.English).String(strings.Join(fields, " "))
}

func contains(set []string, name string) bool {
	name = strings.TrimSpace(name)
	for _, s := range set {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
