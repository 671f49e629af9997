package app

import "github.com/jwulff/callnotes/internal/recognizer"

// RecognitionMsg wraps one event read from the recognition source.
type RecognitionMsg struct {
	Event recognizer.Event
}

// SourceClosedMsg is sent when the source's event channel is closed.
type SourceClosedMsg struct{}

// SafetyTickMsg triggers the periodic silence check. Gen identifies the
// listening session that scheduled it; ticks from an earlier session are
// dropped.
type SafetyTickMsg struct {
	Gen int
}

// RestartMsg asks the controller to restart the source after an end.
// Gen is the controller's restart generation when it was scheduled.
type RestartMsg struct {
	Gen int
}

// ErrorMsg reports a failure to show in the error bar.
type ErrorMsg struct {
	Err       error
	Transient bool
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// CopiedMsg reports the result of copying notes to the clipboard.
type CopiedMsg struct {
	Count int
	Err   error
}

// ClearNoticeMsg clears the status-bar notice.
type ClearNoticeMsg struct{}
