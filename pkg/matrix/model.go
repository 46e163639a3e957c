// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"fmt"
	"strings"
)

// PortKind is the physical type of an output port.
type PortKind int

const (
	PortHDBT PortKind = iota
	PortHDMI
)

func (k PortKind) String() string {
	switch k {
	case PortHDBT:
		return "HDBT"
	case PortHDMI:
		return "HDMI"
	default:
		return "UNKNOWN"
	}
}

// Capabilities are the optional functions a model implements.
type Capabilities struct {
	FanSpeed    bool
	FanAuto     bool
	Temperature bool
}

// Model is a switcher size and its capabilities. Models are plain values;
// the three built-in sizes differ only in these fields.
type Model struct {
	Name         string
	Inputs       int
	Outputs      int
	Capabilities Capabilities
}

var (
	ModelHD4x2 = Model{
		Name:    "HDMX-4x2",
		Inputs:  4,
		Outputs: 2,
	}

	ModelHD8x4 = Model{
		Name:         "HDMX-8x4",
		Inputs:       8,
		Outputs:      4,
		Capabilities: Capabilities{FanAuto: true},
	}

	ModelHD16x8 = Model{
		Name:         "HDMX-16x8",
		Inputs:       16,
		Outputs:      8,
		Capabilities: Capabilities{FanSpeed: true, FanAuto: true, Temperature: true},
	}
)

// Models returns the built-in models, smallest first.
func Models() []Model {
	return []Model{ModelHD4x2, ModelHD8x4, ModelHD16x8}
}

// ModelByName finds a built-in model by full name ("HDMX-8x4") or size
// ("8x4"), ignoring case.
func ModelByName(name string) (Model, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, m := range Models() {
		full := strings.ToLower(m.Name)
		if want == full || want == strings.TrimPrefix(full, "hdmx-") {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: unknown model %q", ErrInvalidConfiguration, name)
}

// CustomModel builds a model that is not one of the built-in sizes.
func CustomModel(name string, inputs, outputs int, caps Capabilities) (Model, error) {
	m := Model{Name: name, Inputs: inputs, Outputs: outputs, Capabilities: caps}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Validate checks that the model has a name and at least one port each way.
func (m Model) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidConfiguration)
	}
	if m.Inputs < 1 || m.Outputs < 1 {
		return fmt.Errorf("%w: model %s needs at least one input and one output, got %dx%d",
			ErrInvalidConfiguration, m.Name, m.Inputs, m.Outputs)
	}
	return nil
}

// SupportsFanSpeed and the other Supports methods report the model's
// capabilities.
func (m Model) SupportsFanSpeed() bool    { return m.Capabilities.FanSpeed }
func (m Model) SupportsFanAuto() bool     { return m.Capabilities.FanAuto }
func (m Model) SupportsTemperature() bool { return m.Capabilities.Temperature }

// OutputKind returns the port type of a 1-based output. The first half of
// the outputs are HDBT, the rest HDMI.
func (m Model) OutputKind(output int) (PortKind, error) {
	if err := checkPort("output", output, m.Outputs); err != nil {
		return 0, err
	}
	if output <= (m.Outputs+1)/2 {
		return PortHDBT, nil
	}
	return PortHDMI, nil
}

func (m Model) String() string {
	return fmt.Sprintf("%s (%dx%d)", m.Name, m.Inputs, m.Outputs)
}

// checkPort validates a 1-based port number against count.
func checkPort(what string, n, count int) error {
	if n < 1 || n > count {
		return fmt.Errorf("%w: %s %d (valid 1-%d)", ErrOutOfRange, what, n, count)
	}
	return nil
}
