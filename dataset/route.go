package dataset

// Input names recognized by the network runtime.
const (
	// MainInput carries the feature array.
	MainInput = "main_input"
	// LabelsInput carries true labels when a loss with trainable auxiliary
	// parameters consumes them as a secondary model input.
	LabelsInput = "labels_input"
)

// Inputs is a named collection of model inputs.
type Inputs map[string]*Array

// Main returns the primary feature array.
func (in Inputs) Main() *Array { return in[MainInput] }

// AuxLabels returns the rerouted label array, or nil when the loss takes
// labels through the ordinary target argument.
func (in Inputs) AuxLabels() *Array { return in[LabelsInput] }

// Rows returns the sample count of the primary input.
func (in Inputs) Rows() int {
	if m := in.Main(); m != nil {
		return m.Rows()
	}
	return 0
}

// Plain wraps features as the sole model input.
func Plain(features *Array) Inputs {
	return Inputs{MainInput: features}
}

// Route prepares data for a loss whose trainable auxiliary parameters consume
// the true labels inside the model graph. Features and labels pass through
// unchanged under main_input and labels_input; the returned target is a
// zero-filled placeholder with one entry per sample, since the supervisory
// signal now flows through the auxiliary input.
func Route(features, labels *Array) (Inputs, *Array) {
	in := Inputs{
		MainInput:   features,
		LabelsInput: labels,
	}
	return in, Zeros(labels.Rows())
}
