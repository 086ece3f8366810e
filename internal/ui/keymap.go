package ui

// Key bindings handled by Model.handleKey.
const (
	keyStart     = "s"
	keyStop      = "x"
	keyToggle    = " "
	keyQuit      = "q"
	keyQuitUpper = "Q"
	keyCtrlC     = "ctrl+c"
)
