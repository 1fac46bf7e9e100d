package risk

// SignalType names a category of risk signal detected in content.
type SignalType string

const (
	SignalEvacuation     SignalType = "evacuation"
	SignalShelter        SignalType = "shelter"
	SignalHazard         SignalType = "hazard"
	SignalMedical        SignalType = "medical"
	SignalDonation       SignalType = "donation"
	SignalInfrastructure SignalType = "infrastructure"
	SignalTimeSensitive  SignalType = "time_sensitive"
	SignalResources      SignalType = "resources"
	SignalAccess         SignalType = "access"
	SignalWeather        SignalType = "weather"
)

// highStakesKeywords trigger high_stakes classification on any match.
var highStakesKeywords = map[SignalType][]string{
	SignalEvacuation: {
		"evacuate", "evacuation", "evacuating", "mandatory evacuation",
		"shelter in place", "leave immediately", "get out now",
	},
	SignalShelter: {
		"shelter closed", "shelter closing", "shelter full", "shelter capacity",
		"shelter opening", "emergency shelter", "warming center", "cooling center",
	},
	SignalHazard: {
		"hazardous", "hazmat", "gas leak", "chemical spill", "toxic",
		"explosion", "fire spreading", "structural collapse", "building collapse",
		"live wires", "downed power lines", "flood waters rising",
	},
	SignalMedical: {
		"mass casualty", "fatality", "fatalities", "death", "deaths",
		"hospital overwhelmed", "medical emergency", "triage", "ems delayed",
		"ambulance unavailable", "critical condition",
	},
	// Donation solicitations carry fraud potential.
	SignalDonation: {
		"donate", "donation", "gofundme", "venmo", "cashapp", "paypal",
		"send money", "wire transfer", "financial assistance",
	},
	SignalInfrastructure: {
		"dam failure", "dam breach", "levee breach", "bridge collapse",
		"road closed", "highway closed", "water contaminated",
		"boil water", "power grid", "blackout",
	},
}

// elevatedKeywords trigger elevated classification; three or more distinct
// matches escalate to high_stakes.
var elevatedKeywords = map[SignalType][]string{
	SignalTimeSensitive: {
		"urgent", "immediately", "asap", "critical", "emergency",
		"breaking", "just now", "happening now", "developing",
	},
	SignalResources: {
		"running low", "almost out", "limited supply", "need volunteers",
		"need supplies", "shortage", "rationing",
	},
	SignalAccess: {
		"road blocked", "detour", "alternate route", "restricted access",
		"checkpoint", "curfew", "closed until",
	},
	SignalWeather: {
		"storm warning", "tornado watch", "flash flood", "severe weather",
		"conditions worsening", "expected to intensify",
	},
}
