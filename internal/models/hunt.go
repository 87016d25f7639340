package models

// Status is the verification workflow state
type Status string

const (
	StatusIdle      Status = "idle"
	StatusChecking  Status = "checking"
	StatusCorrect   Status = "correct"
	StatusIncorrect Status = "incorrect"
	StatusError     Status = "error"
)

// Label returns the participant-facing feedback line for a status
func (s Status) Label() string {
	switch s {
	case StatusChecking:
		return "checking encrypted trails..."
	case StatusCorrect:
		return "correct! new q unlocked."
	case StatusIncorrect:
		return "incorrect attempt. think again and retry."
	case StatusError:
		return "systems down. give it a beat."
	default:
		return ""
	}
}

// HuntView is everything the hunt page renders for one connection
type HuntView struct {
	SignedIn     bool
	AuthLoading  bool
	DisplayName  string
	LevelNumber  *int
	Level        *Level
	LevelLoading bool
	LevelError   string
	Answer       string
	Epoch        uint64 // bumped each time a level is entered; the browser clears its input on change
	Status       Status
	Message      string
	SubmitLocked bool
}
