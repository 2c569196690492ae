package shape

// Label vocabularies for parking-slot annotations
var (
	SlotLineLabels     = []string{"line", "entrance_line"}
	SlotKeypointLabels = []string{"keypoint"}
)

// SlotVehicleLabel is the fixed label of the ego-vehicle outline polygon
const SlotVehicleLabel = "self_car"

// RestrictSlotLabel coerces label into the vocabulary allowed for a slot
// shape drawn as t. Lines accept SlotLineLabels, points accept
// SlotKeypointLabels; anything else falls back to the first allowed label
// and changed is true. Other shape types are returned untouched.
func RestrictSlotLabel(t Type, label string) (restricted string, changed bool) {
	var allowed []string
	switch t {
	case Line:
		allowed = SlotLineLabels
	case Point:
		allowed = SlotKeypointLabels
	default:
		return label, false
	}
	for _, a := range allowed {
		if a == label {
			return label, false
		}
	}
	return allowed[0], true
}
