package ui

// ProgressKind enumerates the suspension points the controller reports
// progress from, so the UI can update a spinner or status line.
type ProgressKind int

const (
	ProgressWaitingForReader ProgressKind = iota
	ProgressWaitingForCard
	ProgressReadingCertificate
	ProgressVerifyingPin
	ProgressSigning
)

// ProgressEvent is one progress update. The controller delivers it on its
// own goroutine by calling ProgressSink.Progress; workers never send it.
type ProgressEvent struct {
	Kind ProgressKind
}

// ProgressSink is optionally implemented by Facade backends that can
// render progress updates between dialogs.
type ProgressSink interface {
	Progress(ProgressEvent)
}
