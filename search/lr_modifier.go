package search

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-pose/training"
)

// LRModifierKey is the reserved hyperparameter name whose drawn value
// selects the learning-rate schedule for an iteration. The space may omit
// it entirely, in which case no schedule is ever attached.
const LRModifierKey = "lr_modifier"

// LRModifier builds a learning-rate schedule callback from the full drawn
// assignment, so a schedule can read other hyperparameters (decay factors,
// step sizes) from the same draw. Returning a nil callback attaches no
// schedule for that iteration.
type LRModifier func(a Assignment) (training.Callback, error)

// ErrBadLRModifier reports an lr_modifier draw whose value is not an
// LRModifier.
var ErrBadLRModifier = errors.New("search: lr_modifier must draw an LRModifier")

// resolveLRModifier extracts and invokes the assignment's lr_modifier draw.
// A missing key or nil modifier means no schedule.
func resolveLRModifier(a Assignment) (training.Callback, error) {
	v, ok := a[LRModifierKey]
	if !ok || v == nil {
		return nil, nil
	}
	mod, ok := v.(LRModifier)
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrBadLRModifier, v)
	}
	if mod == nil {
		return nil, nil
	}
	return mod(a)
}
