package status

import "github.com/tuanbt/razzle/internal/engine"

// CompileEventMsg carries a compiler event into the view.
type CompileEventMsg struct {
	Event engine.Event
}

// detachMsg stops the program.
type detachMsg struct{}
