package protocol

import "time"

// WakeDetected is published when the wake gate fires. Exactly one of
// these is emitted per idle period; the gate disarms until the session
// finishes its turn.
type WakeDetected struct {
	SessionID    string    `json:"session_id"`
	Keyword      string    `json:"keyword"`
	KeywordIndex int       `json:"keyword_index"`
	Timestamp    time.Time `json:"timestamp"`
}

// WakeSuspended is published when repeated input overflows push the
// gate into its suspended state.
type WakeSuspended struct {
	Overflows int       `json:"overflows"`
	WindowSec int       `json:"window_secs"`
	Timestamp time.Time `json:"timestamp"`
}

// WakeResumed is published when a suspended gate is re-armed.
type WakeResumed struct {
	Timestamp time.Time `json:"timestamp"`
}

// Transcript represents STT output broadcast on the bus. Partial
// transcripts are interim decoder state; final ones close an utterance.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// ResponseDelta is one streamed chunk of the assistant's reply.
type ResponseDelta struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ResponseDone closes a streamed reply and carries the full text.
type ResponseDone struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechSegment is a sentence handed to the synthesis queue.
type SpeechSegment struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Sequence  int       `json:"sequence"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechPlayed reports one synthesized utterance written to the output
// device.
type SpeechPlayed struct {
	Text      string    `json:"text"`
	Samples   int       `json:"samples"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState announces a state machine transition.
type SessionState struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnRecord summarizes one exchange. Error is set when the turn
// failed; AssistantText is then empty.
type TurnRecord struct {
	SessionID     string    `json:"session_id"`
	TurnID        string    `json:"turn_id"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

const (
	SubjectWakeDetected      = "wake.detected"
	SubjectWakeSuspended     = "wake.suspended"
	SubjectWakeResumed       = "wake.resumed"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectResponseDelta     = "llm.response.delta"
	SubjectResponseDone      = "llm.response.done"
	SubjectSpeechSegment     = "tts.segment"
	SubjectSpeechPlayed      = "tts.played"
	SubjectSessionState      = "session.state"
	SubjectSessionTurn       = "session.turn"
)
