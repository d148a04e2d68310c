package errors

// Warning is a recoverable failure reported next to a successful result.
// Steps that degrade (courier fallback, notification drop) return a Warning
// instead of failing the caller.
type Warning struct {
	Code    Code   `json:"code"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// NewWarning builds a warning for the named step from err.
func NewWarning(code Code, step string, err error) Warning {
	w := Warning{Code: code, Step: step}
	if err != nil {
		w.Message = err.Error()
	}
	return w
}

// Warnings accumulates warnings across saga steps.
type Warnings []Warning

func (w *Warnings) Add(code Code, step string, err error) {
	*w = append(*w, NewWarning(code, step, err))
}

// Has reports whether a warning for step was recorded.
func (w Warnings) Has(step string) bool {
	for _, item := range w {
		if item.Step == step {
			return true
		}
	}
	return false
}
