package recognizer

import "fmt"

// Command is sent to a remote recognizer (daemon socket or browser bridge).
type Command struct {
	Cmd            string `json:"cmd"`
	Lang           string `json:"lang,omitempty"`
	Continuous     *bool  `json:"continuous,omitempty"`
	InterimResults *bool  `json:"interimResults,omitempty"`
}

// StartCommand builds a start command from cfg.
func StartCommand(cfg Config) Command {
	return Command{
		Cmd:            "start",
		Lang:           cfg.Language,
		Continuous:     BoolPtr(cfg.Continuous),
		InterimResults: BoolPtr(cfg.InterimResults),
	}
}

// StopCommand builds a stop command.
func StopCommand() Command { return Command{Cmd: "stop"} }

// Message is streamed from a remote recognizer.
type Message struct {
	Event       string  `json:"event"`
	ResultIndex int     `json:"resultIndex,omitempty"`
	Results     []Entry `json:"results,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// ToEvent converts a wire message into an Event. Messages that carry no
// recognition information ("error", "status", ...) report ok == false.
func (m Message) ToEvent() (ev Event, ok bool, err error) {
	switch m.Event {
	case "result":
		return Event{Kind: KindResult, Result: Result{Index: m.ResultIndex, Entries: m.Results}}, true, nil
	case "end":
		return Event{Kind: KindEnd}, true, nil
	case "error":
		return Event{}, false, fmt.Errorf("recognizer reported: %s", m.Message)
	default:
		return Event{}, false, nil
	}
}

// ResultMessage encodes r for the wire.
func ResultMessage(r Result) Message {
	return Message{Event: "result", ResultIndex: r.Index, Results: r.Entries}
}

// EndMessage encodes an end notification for the wire.
func EndMessage() Message { return Message{Event: "end"} }

// BoolPtr returns a pointer to a bool value.
func BoolPtr(b bool) *bool { return &b }
