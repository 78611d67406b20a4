package training

// ResetStates clears a stateful network's carried recurrent state every
// Interval batches, marking the boundary where one training sequence ends
// and the next begins. The batch counter lives on the callback and resets
// when a run begins and at every epoch end, so sequence alignment starts
// fresh each epoch. An Interval of zero or less disables the callback.
type ResetStates struct {
	Interval int

	counter int
}

// NewResetStates creates the callback. Interval is the number of batches
// that make up one full sequence, typically the sequence length divided by
// the subsequence length the samples were windowed to.
func NewResetStates(interval int) *ResetStates {
	return &ResetStates{Interval: interval}
}

// OnTrainBegin zeroes the batch counter for the new run.
func (rs *ResetStates) OnTrainBegin(run *Run) error {
	rs.counter = 0
	return nil
}

// OnEpochEnd zeroes the batch counter so the next epoch starts aligned.
func (rs *ResetStates) OnEpochEnd(epoch int, logs *EpochLogs, run *Run) error {
	rs.counter = 0
	return nil
}

// OnBatchEnd advances the counter and resets network state at sequence
// boundaries.
func (rs *ResetStates) OnBatchEnd(batch int, logs *BatchLogs, run *Run) error {
	if rs.Interval <= 0 {
		return nil
	}
	rs.counter++
	if rs.counter%rs.Interval == 0 {
		run.Network.ResetStates()
	}
	return nil
}
