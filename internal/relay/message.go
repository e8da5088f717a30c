package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tuanbt/razzle/internal/console"
)

// Kind discriminates worker messages.
type Kind string

// KindConsole is a console call made inside a worker.
const KindConsole Kind = "console"

// Message is a decoded worker message.
type Message struct {
	Kind  Kind
	Level console.Level
	Args  []any
}

var errNotConsole = errors.New("not a console message")

type wireMessage struct {
	Cmd  string          `json:"cmd"`
	Type string          `json:"type"`
	Args json.RawMessage `json:"args"`
}

// Decode validates a raw IPC line. Only {cmd:"console", type:<level>, args:[...]}
// with a supported level is accepted.
func Decode(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}
	if w.Cmd != string(KindConsole) {
		return Message{}, errNotConsole
	}
	level, ok := console.ParseLevel(w.Type)
	if !ok {
		return Message{}, fmt.Errorf("unsupported console method %q", w.Type)
	}

	var args []any
	if len(w.Args) > 0 && string(w.Args) != "null" {
		if err := json.Unmarshal(w.Args, &args); err != nil {
			return Message{}, fmt.Errorf("args must be an array: %w", err)
		}
	}
	return Message{Kind: KindConsole, Level: level, Args: args}, nil
}
