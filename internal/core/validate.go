package core

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidateID enforces the identifier format shared by plants and devices.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("id %q does not match %s", id, idPattern.String())
	}
	return nil
}

// ValidateIDs rejects malformed and duplicate identifiers.
func ValidateIDs(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("duplicate id: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// ValidateReading checks value ranges. Moisture and light are percentages.
func ValidateReading(r Reading) error {
	if err := percent("moisture", r.Moisture); err != nil {
		return err
	}
	if err := percent("light", r.Light); err != nil {
		return err
	}
	if math.IsNaN(r.Temperature) || math.IsInf(r.Temperature, 0) {
		return fmt.Errorf("temperature is not finite")
	}
	if r.CapturedAt.IsZero() {
		return fmt.Errorf("timestamp is missing")
	}
	return nil
}

func percent(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s is not finite", name)
	}
	if v < 0 || v > 100 {
		return fmt.Errorf("%s %.2f out of range [0,100]", name, v)
	}
	return nil
}

// ParseAction normalizes a wire action name.
func ParseAction(raw string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, "-", "_")
	switch name {
	case "pump_on", "water_on", "water":
		return ActionPumpOn, nil
	case "pump_off", "water_off":
		return ActionPumpOff, nil
	case "light_on":
		return ActionLightOn, nil
	case "light_off":
		return ActionLightOff, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
}

// Waters reports whether the action starts watering.
func (a Action) Waters() bool {
	return a == ActionPumpOn
}
