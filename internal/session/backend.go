package session

// Backend is the protocol-specific handler set driving one session. Init is
// the only required entry point; it runs once, before the relay loop
// starts, and an error aborts the connection. Any per-connection state the
// backend needs lives inside the Backend value itself.
//
// The remaining handlers are optional capabilities discovered by interface
// assertion. A backend without MessageHandler is purely reactive.
type Backend interface {
	Init(s *Session, args []string) error
}

// MessageHandler is called repeatedly by the relay loop to let the backend
// pump messages from the remote server it fronts. A non-nil error stops the
// session.
type MessageHandler interface {
	HandleMessages(s *Session) error
}

// MouseHandler receives pointer events. buttonMask is the bitwise OR of the
// protocol.Button* values currently held.
type MouseHandler interface {
	Mouse(s *Session, x, y, buttonMask int) error
}

// KeyHandler receives key events. pressed is 1 for press, 0 for release.
type KeyHandler interface {
	Key(s *Session, keysym, pressed int) error
}

// ClipboardHandler receives clipboard contents set by the tunnel client,
// already decoded from the wire format.
type ClipboardHandler interface {
	Clipboard(s *Session, text string) error
}

// FreeHandler releases backend-held resources. The session guarantees Free
// runs at most once, and only if Init completed.
type FreeHandler interface {
	Free() error
}
