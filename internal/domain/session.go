// Package domain holds the core quiz-solving types.
package domain

import (
	"time"
)

// SessionKey identifies one attempt line: one requester working one quiz URL.
// The URL is the first URL of the line; follow-up questions mutate the
// session's CurrentURL, never the key.
type SessionKey struct {
	Identity string
	URL      string
}

// String renders the key for logging and archive rows.
func (k SessionKey) String() string {
	return k.Identity + "|" + k.URL
}

// Session tracks one in-progress quiz attempt. The session registry owns all
// Session values; everything outside the registry sees copies. ID is unique
// per incarnation: replacing an expired session under the same key yields a
// new ID, so a pipeline run bound to the old ID can detect it was superseded.
type Session struct {
	ID              string
	Key             SessionKey
	CreatedAt       time.Time
	CurrentURL      string
	SubmissionCount int
	History         []AttemptRecord
	Terminal        bool
	Outcome         OutcomeTag
}

// Elapsed returns the time since the session was created.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// IsTimedOut reports whether the session's deadline window has elapsed.
// Pure function of now and the creation timestamp, so once true it stays true.
func (s *Session) IsTimedOut(now time.Time, window time.Duration) bool {
	return s.Elapsed(now) > window
}

// LastAttempt returns the most recent attempt record, or nil if none.
func (s *Session) LastAttempt() *AttemptRecord {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

// OutcomeTag classifies the result of one attempt cycle, and of the session
// once it turns terminal.
type OutcomeTag string

const (
	OutcomeCorrect   OutcomeTag = "correct"
	OutcomeIncorrect OutcomeTag = "incorrect"
	OutcomeError     OutcomeTag = "error"
	OutcomeTimeout   OutcomeTag = "timeout"
)

// FailureKind names why an attempt failed.
type FailureKind string

const (
	FailureRender               FailureKind = "render_failed"
	FailureQuestionNotFound     FailureKind = "question_not_found"
	FailureInferenceUnavailable FailureKind = "inference_unavailable"
	FailureSubmitUnavailable    FailureKind = "submit_unavailable"
	FailureAmbiguousResponse    FailureKind = "ambiguous_response"
	FailureTimedOut             FailureKind = "timed_out"
)

// AttemptRecord is the evidence of one pipeline cycle: what was asked, what
// was answered, and what the quiz server said.
type AttemptRecord struct {
	Question    string      `json:"question"`
	Answer      Answer      `json:"answer"`
	RawResponse string      `json:"raw_response,omitempty"`
	Outcome     OutcomeTag  `json:"outcome"`
	Failure     FailureKind `json:"failure,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

// Encoding records how the question payload arrived on the page.
type Encoding string

const (
	// EncodingPlain means the text was used verbatim.
	EncodingPlain Encoding = "plain"
	// EncodingBase64 means the text was base64 and has been decoded.
	EncodingBase64 Encoding = "base64"
)

// QuestionPayload is extracted question text. Text is always decoded plain
// text; Encoding records whether a decode was applied, so re-running
// extraction on already-decoded text never decodes twice.
type QuestionPayload struct {
	Text     string
	Encoding Encoding
}
