package guided

import "strings"

const (
	// NotListed is the facility sentinel that switches to free-text entry.
	NotListed = "Not Listed"
	// Unsure is the location sentinel with no facility list.
	Unsure = "Unsure"
)

// Variant is the reference data for one recommendation assistant.
type Variant struct {
	Country    string
	Locations  []Option
	Facilities map[string][]string
}

var (
	malaysia = Variant{
		Country: "MY",
		Locations: []Option{
			{Label: "1. Kuala Lumpur", Value: "Kuala Lumpur"},
			{Label: "2. Selangor", Value: "Selangor"},
			{Label: "3. Penang", Value: "Penang"},
			{Label: "4. Malacca", Value: "Malacca"},
			{Label: "5. Johor", Value: "Johor"},
			{Label: "6. Unsure", Value: Unsure},
		},
		Facilities: map[string][]string{
			"Penang": {"Pantai Hospital Penang", "Sunway Medical Penang", NotListed},
			"Kuala Lumpur": {
				"Cardiac Vascular Sentral KL", "Gleneagles KL", "Hospital Picaso",
				"Pantai Hospital KL", "Prince Court Medical Centre", "Sunway Medical KL", NotListed,
			},
			"Selangor": {"Sunway Medical Centre Selangor", "Thomson Hospital Kota Damansara", NotListed},
		},
	}

	singapore = Variant{
		Country:   "SG",
		Locations: []Option{{Label: "Singapore", Value: "Singapore"}},
		Facilities: map[string][]string{
			"Singapore": {
				"Gleneagles Singapore", "Mount Elizabeth Hospital", "Raffles Hospital",
				"Singapore General Hospital", "National University Hospital", NotListed,
			},
		},
	}
)

// VariantFor returns the reference data for a country code. Anything other
// than SG gets the Malaysian variant.
func VariantFor(country string) Variant {
	if strings.EqualFold(country, "SG") {
		return singapore
	}
	return malaysia
}

func (v Variant) hasLocation(value string) bool {
	for _, loc := range v.Locations {
		if loc.Value == value {
			return true
		}
	}
	return false
}

func (v Variant) facilitiesIn(location string) []string {
	return v.Facilities[location]
}

func (v Variant) hasFacility(location, value string) bool {
	for _, f := range v.facilitiesIn(location) {
		if f == value {
			return true
		}
	}
	return false
}
