package decider

import (
	"fmt"
	"strings"

	"github.com/pippuri/whim-bot-sub001/internal/itinerary"
)

// Friendlier nouns for the mode codes the trips service uses.
var modeNouns = map[string]string{
	"WALK":      "walk",
	"BUS":       "bus",
	"TRAM":      "tram",
	"TRAIN":     "train",
	"SUBWAY":    "metro",
	"FERRY":     "ferry",
	"TAXI":      "taxi",
	"CAR":       "car",
	"BICYCLE":   "bike",
	"SCOOTER":   "scooter",
	"RIDESHARE": "ride",
}

func modeNoun(mode string) string {
	if noun, ok := modeNouns[strings.ToUpper(mode)]; ok {
		return noun
	}
	return strings.ToLower(mode)
}

// startingMessage derives the human-readable trip activation text from the
// first leg, or from the second when the trip opens with a walk.
func startingMessage(legs []itinerary.Leg) string {
	if len(legs) == 0 {
		return "Your trip is starting now."
	}

	first := legs[0]
	if strings.EqualFold(first.Mode, "WALK") && len(legs) > 1 {
		return fmt.Sprintf("Your trip is starting: walk to your %s.", modeNoun(legs[1].Mode))
	}
	return fmt.Sprintf("Your trip is starting: your %s departs soon.", modeNoun(first.Mode))
}
