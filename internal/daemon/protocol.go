// Package daemon connects to an out-of-process speech recognizer over a Unix
// socket. Commands and events are exchanged as NDJSON: one JSON object per
// line, using the wire types from package recognizer.
package daemon

import "github.com/jwulff/callnotes/internal/recognizer"

// Response is returned by the daemon after processing a command. A start
// reply may report whether the daemon is now listening and in which language.
type Response struct {
	OK        bool   `json:"ok"`
	Listening *bool  `json:"listening,omitempty"`
	Language  string `json:"lang,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SubscribeCommand asks the daemon to stream recognition events on the
// connection it arrives on.
func SubscribeCommand() recognizer.Command { return recognizer.Command{Cmd: "subscribe"} }
