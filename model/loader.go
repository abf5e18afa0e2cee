package model

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LoadCSV reads a recorded trajectory from CSV. The first row is a header;
// recognised columns are bound to trajectory series by name (time, n, e, d,
// phi, theta, psi, delta_a, delta_e, delta_r, rpm_left, rpm_right,
// tilt_left, tilt_right; case-insensitive), unknown columns are ignored.
// When no time column is present the time series is synthesised from the
// sample rate. The returned trajectory is validated.
func LoadCSV(r io.Reader, sampleRate float64) (*Trajectory, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	tr := &Trajectory{SampleRate: sampleRate}
	columns := make([]*[]float64, len(header))
	for i, name := range header {
		columns[i] = tr.seriesByName(strings.ToLower(strings.TrimSpace(name)))
	}

	row := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}
		for i, field := range record {
			if i >= len(columns) || columns[i] == nil {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", row, header[i], err)
			}
			*columns[i] = append(*columns[i], v)
		}
		row++
	}

	if len(tr.Time) == 0 {
		n := tr.sampleCount()
		if n == 0 {
			return nil, fmt.Errorf("trajectory has no samples")
		}
		if sampleRate <= 0 {
			return nil, fmt.Errorf("sample rate must be positive to synthesise time, got %v", sampleRate)
		}
		tr.Time = make([]float64, n)
		for i := range tr.Time {
			tr.Time[i] = float64(i) / sampleRate
		}
	}

	if err := tr.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trajectory: %w", err)
	}
	return tr, nil
}

func (tr *Trajectory) seriesByName(name string) *[]float64 {
	switch name {
	case "time", "t":
		return &tr.Time
	case "n", "north":
		return &tr.N
	case "e", "east":
		return &tr.E
	case "d", "down":
		return &tr.D
	case "phi", "roll":
		return &tr.Phi
	case "theta", "pitch":
		return &tr.Theta
	case "psi", "yaw", "heading":
		return &tr.Psi
	case "delta_a", "aileron":
		return &tr.DeltaA
	case "delta_e", "elevator":
		return &tr.DeltaE
	case "delta_r", "rudder":
		return &tr.DeltaR
	case "rpm_cl", "rpm_left":
		return &tr.RPMLeft
	case "rpm_cr", "rpm_right":
		return &tr.RPMRight
	case "theta_cl", "tilt_left":
		return &tr.TiltLeft
	case "theta_cr", "tilt_right":
		return &tr.TiltRight
	}
	return nil
}

func (tr *Trajectory) sampleCount() int {
	for _, s := range [][]float64{tr.N, tr.E, tr.D, tr.Phi, tr.Theta, tr.Psi,
		tr.DeltaA, tr.DeltaE, tr.DeltaR,
		tr.RPMLeft, tr.RPMRight, tr.TiltLeft, tr.TiltRight} {
		if len(s) > 0 {
			return len(s)
		}
	}
	return 0
}
