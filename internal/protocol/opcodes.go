package protocol

// Opcodes understood by the session runtime. Backends may emit additional
// protocol-specific opcodes through Session.Send.
const (
	OpConnect    = "connect"
	OpMouse      = "mouse"
	OpKey        = "key"
	OpClipboard  = "clipboard"
	OpSync       = "sync"
	OpDisconnect = "disconnect"
	OpError      = "error"
	OpName       = "name"
)

// Mouse button mask bits carried by the mouse event's button_mask element.
const (
	ButtonLeft       = 1
	ButtonMiddle     = 2
	ButtonRight      = 4
	ButtonScrollUp   = 8
	ButtonScrollDown = 16
)
