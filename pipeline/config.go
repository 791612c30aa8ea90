package pipeline

import "fmt"

// SimulationParameters describes the cosmology of the converted simulation.
// All four values are required and are written verbatim into the dataset
// header. OmegaL may legitimately be zero.
type SimulationParameters struct {
	BoxSize float64 // comoving box side length
	Hubble  float64 // Hubble constant
	OmegaM  float64 // matter density fraction
	OmegaL  float64 // dark-energy density fraction
}

// Validate checks that every required parameter has been supplied.
func (p SimulationParameters) Validate() error {
	if p.BoxSize <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("box size must be positive, got %g", p.BoxSize)}
	}
	if p.Hubble <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("hubble constant must be positive, got %g", p.Hubble)}
	}
	if p.OmegaM <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("omega_m must be positive, got %g", p.OmegaM)}
	}
	if p.OmegaL < 0 {
		return &ConfigError{Reason: fmt.Sprintf("omega_l must not be negative, got %g", p.OmegaL)}
	}
	return nil
}

// SnapshotTable is the redshift of every simulation snapshot, indexed by
// snapshot number.
type SnapshotTable []float64

// Validate checks that the table is present and non-empty.
func (t SnapshotTable) Validate() error {
	if len(t) == 0 {
		return &ConfigError{Reason: "snapshot redshift table is empty"}
	}
	return nil
}
