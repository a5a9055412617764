// Package confirm describes a yes/no confirmation dialog guarding destructive actions.
//
// Dialog is a plain value: callers rebuild it from their own state on every render,
// so it never outlives the state it describes.
package confirm

// Variant selects how the confirm action is styled
type Variant int

const (
	Default Variant = iota
	Danger
)

func (v Variant) String() string {
	if v == Danger {
		return "danger"
	}
	return "default"
}

const (
	DefaultConfirmLabel = "Confirm"
	DefaultCancelLabel  = "Cancel"
	BusyLabel           = "Processing…"
)

// Dialog is a confirmation prompt
type Dialog struct {
	Open         bool
	Title        string
	Description  string
	ConfirmLabel string
	CancelLabel  string
	Variant      Variant
	// Busy disables both actions while the confirmed operation runs
	Busy bool

	OnConfirm func()
	OnCancel  func()
}

// Closed is the zero dialog
var Closed = Dialog{}

// ConfirmText returns the label to render on the confirm action
func (d Dialog) ConfirmText() string {
	if d.Busy {
		return BusyLabel
	}
	if d.ConfirmLabel == "" {
		return DefaultConfirmLabel
	}
	return d.ConfirmLabel
}

// CancelText returns the label to render on the cancel action
func (d Dialog) CancelText() string {
	if d.CancelLabel == "" {
		return DefaultCancelLabel
	}
	return d.CancelLabel
}

// Enabled reports whether the actions accept input
func (d Dialog) Enabled() bool {
	return d.Open && !d.Busy
}

// Confirm runs OnConfirm unless the dialog is closed or busy, and reports whether it ran
func (d Dialog) Confirm() bool {
	if !d.Enabled() || d.OnConfirm == nil {
		return false
	}
	d.OnConfirm()
	return true
}

// Cancel runs OnCancel unless the dialog is closed or busy, and reports whether it ran
func (d Dialog) Cancel() bool {
	if !d.Enabled() || d.OnCancel == nil {
		return false
	}
	d.OnCancel()
	return true
}
