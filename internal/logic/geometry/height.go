package geometry

import (
	"fmt"
	"math"

	"github.com/cjeanneret/DeskGo/internal/protocol"
)

// UnitsPerCentimeter is the number of raw position units per centimeter
// of desk travel.
const UnitsPerCentimeter = 98.0

// Centimeters converts a raw position to centimeters.
func Centimeters(raw uint16) float64 {
	return float64(raw) / UnitsPerCentimeter
}

// RawFromCentimeters converts a height in centimeters to the nearest raw
// position. Heights that would land on a sentinel move code are rejected.
func RawFromCentimeters(cm float64) (uint16, error) {
	if math.IsNaN(cm) || math.IsInf(cm, 0) {
		return 0, fmt.Errorf("invalid height %v", cm)
	}
	if cm < 0 {
		return 0, fmt.Errorf("height must be non-negative, got %.2fcm", cm)
	}
	raw := math.Round(cm * UnitsPerCentimeter)
	if raw >= float64(protocol.MoveDownwards) {
		return 0, fmt.Errorf("height %.2fcm is out of range (max %.2fcm)", cm, Centimeters(protocol.MoveDownwards-1))
	}
	return uint16(raw), nil
}
