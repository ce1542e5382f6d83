package models

import "fmt"

// EnergyProfile shapes how the mixer sequences selected tracks.
type EnergyProfile string

const (
	EnergyAscending  EnergyProfile = "ascending"
	EnergyDescending EnergyProfile = "descending"
	EnergySteady     EnergyProfile = "steady"
	EnergyVariable   EnergyProfile = "variable"
)

// ParseEnergyProfile maps model output onto a known profile, defaulting to
// steady for anything unrecognized.
func ParseEnergyProfile(s string) EnergyProfile {
	switch EnergyProfile(s) {
	case EnergyAscending, EnergyDescending, EnergySteady, EnergyVariable:
		return EnergyProfile(s)
	default:
		return EnergySteady
	}
}

// MixtapeIntent is the validated, structured form of a mixtape request.
// Intents are ephemeral: they drive a single synthesis call and are never
// persisted.
type MixtapeIntent struct {
	MoodTags              []string
	TargetDurationSeconds int
	TargetTrackCount      int
	EnergyProfile         EnergyProfile
	SourceWeights         map[Provider]float64
	DiscoveryRatio        float64
}

// WeightedProviders returns providers with a nonzero source weight, in
// stable order.
func (i MixtapeIntent) WeightedProviders() []Provider {
	var out []Provider
	for _, p := range Providers() {
		if i.SourceWeights[p] > 0 {
			out = append(out, p)
		}
	}
	return out
}

func (i MixtapeIntent) Validate() error {
	if i.TargetDurationSeconds < 60 || i.TargetDurationSeconds > 14400 {
		return fmt.Errorf("target duration %ds out of range", i.TargetDurationSeconds)
	}
	if i.TargetTrackCount < 1 || i.TargetTrackCount > 200 {
		return fmt.Errorf("target track count %d out of range", i.TargetTrackCount)
	}
	if i.DiscoveryRatio < 0 || i.DiscoveryRatio > 1 {
		return fmt.Errorf("discovery ratio %f out of range", i.DiscoveryRatio)
	}
	total := 0.0
	for _, w := range i.SourceWeights {
		if w < 0 {
			return fmt.Errorf("negative source weight")
		}
		total += w
	}
	if total < 0.999 || total > 1.001 {
		return fmt.Errorf("source weights sum to %f, want 1", total)
	}
	return nil
}
