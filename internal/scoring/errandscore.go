package scoring

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// Errand-fit score weights.
const (
	buildingMatchScore  = 50
	offerZoneMatchScore = 30
	zoneMatchScore      = 20
	timeOverlapScore    = 20

	doorDeliveryBonus   = 15
	doorDeliveryPenalty = -10
	cargoMatchBonus     = 5
	equipmentBonus      = 10
	equipmentPenalty    = -5
)

// ErrandScore rates how well a runner's offer fits a service-request:
// location dominates, then time overlap, then capability checks. The result
// is clamped to >= 0.
//
// The building rung compares the offer's availabilityCampusZone spec against
// the request's building names. That comparison is inherited behavior; do not
// rely on it carrying zone semantics.
func ErrandScore(request, offer *models.Resource, profile *models.RunnerProfile) int {
	score := 0

	from := models.AddressFromSpec(request.Specifications, "from_address")
	to := models.AddressFromSpec(request.Specifications, "to_address")

	pickupBuilding := strings.ToLower(from.BuildingName)
	dropoffBuilding := strings.ToLower(to.BuildingName)
	pickupZone := strings.ToLower(from.CampusZone)
	dropoffZone := strings.ToLower(to.CampusZone)

	offerZone := strings.ToLower(specString(offer.Specifications, "availabilityCampusZone"))

	runnerZones := make(map[string]struct{}, len(profile.OperatingCampusZones))
	for _, z := range profile.OperatingCampusZones {
		runnerZones[strings.ToLower(z)] = struct{}{}
	}

	switch {
	case (pickupBuilding != "" && offerZone == pickupBuilding) ||
		(dropoffBuilding != "" && offerZone == dropoffBuilding):
		score += buildingMatchScore
	default:
		_, pickupInZones := runnerZones[pickupZone]
		_, dropoffInZones := runnerZones[dropoffZone]
		pickupInZones = pickupInZones && pickupZone != ""
		dropoffInZones = dropoffInZones && dropoffZone != ""
		if pickupInZones || dropoffInZones {
			if offerZone != "" && (offerZone == pickupZone || offerZone == dropoffZone) {
				score += offerZoneMatchScore
			} else {
				score += zoneMatchScore
			}
		}
	}

	if timeWindowsOverlap(request.Specifications, offer.Specifications) {
		score += timeOverlapScore
	}

	if specBool(request.Specifications, "door_delivery") {
		if hasEquipment(profile, "door-delivery") || profile.VehicleType == "foot" || profile.VehicleType == "bicycle" {
			score += doorDeliveryBonus
		} else {
			score += doorDeliveryPenalty
		}
	}

	if cargo := requestCargoDescription(request.Specifications); cargo != "" && profile.CargoCapacityDescription != "" {
		if strings.Contains(strings.ToLower(profile.CargoCapacityDescription), strings.ToLower(cargo)) {
			score += cargoMatchBonus
		}
	}

	if required := specStringSlice(request.Specifications, "requiredEquipment"); len(required) > 0 {
		if hasAllEquipment(profile, required) {
			score += equipmentBonus
		} else {
			score += equipmentPenalty
		}
	}

	if score < 0 {
		return 0
	}
	return score
}

// timeWindowsOverlap checks the request's expected window against the offer's
// first availableTimeSlots entry. Missing or unparsable times contribute no
// score.
func timeWindowsOverlap(requestSpecs, offerSpecs map[string]interface{}) bool {
	reqStart, ok1 := specTime(requestSpecs, "expectedStartTime")
	reqEnd, ok2 := specTime(requestSpecs, "expectedEndTime")
	if !ok1 || !ok2 {
		return false
	}

	slots := specSlice(offerSpecs["availableTimeSlots"])
	if len(slots) == 0 {
		return false
	}
	first, ok := slots[0].(map[string]interface{})
	if !ok {
		return false
	}
	offerStart, ok1 := parseSpecTime(first["start"])
	offerEnd, ok2 := parseSpecTime(first["end"])
	if !ok1 || !ok2 {
		return false
	}

	overlapStart := maxTime(reqStart, offerStart)
	overlapEnd := minTime(reqEnd, offerEnd)
	return overlapEnd.After(overlapStart)
}

// requestCargoDescription prefers item_details.size, falling back to
// item_details.weightDescription.
func requestCargoDescription(specs map[string]interface{}) string {
	details, ok := specs["item_details"].(map[string]interface{})
	if !ok {
		return ""
	}
	if s, ok := details["size"].(string); ok && s != "" {
		return s
	}
	if s, ok := details["weightDescription"].(string); ok {
		return s
	}
	return ""
}

func hasEquipment(profile *models.RunnerProfile, item string) bool {
	for _, eq := range profile.SpecialEquipment {
		if eq == item {
			return true
		}
	}
	return false
}

func hasAllEquipment(profile *models.RunnerProfile, required []string) bool {
	for _, item := range required {
		if !hasEquipment(profile, item) {
			return false
		}
	}
	return true
}

func specString(specs map[string]interface{}, key string) string {
	s, _ := specs[key].(string)
	return s
}

func specBool(specs map[string]interface{}, key string) bool {
	b, _ := specs[key].(bool)
	return b
}

func specStringSlice(specs map[string]interface{}, key string) []string {
	raw := specSlice(specs[key])
	if raw == nil {
		// Decoded documents may carry []string directly.
		if direct, ok := specs[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// specSlice normalizes the two shapes a spec array can arrive in: a literal
// []interface{} or the driver's primitive.A.
func specSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case primitive.A:
		return s
	}
	return nil
}

func specTime(specs map[string]interface{}, key string) (time.Time, bool) {
	return parseSpecTime(specs[key])
}

// parseSpecTime accepts the shapes a spec value can arrive in: a decoded
// time.Time, the driver's primitive.DateTime, or an RFC 3339 string.
func parseSpecTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
