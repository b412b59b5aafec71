package core

// State is the position of a PhoneLoginAttempt in the login protocol.
type State string

const (
	StatePhoneEntry            State = "phone_entry"
	StateOrganizationSelection State = "organization_selection"
	StateFactorEnrolled        State = "factor_enrolled"
	StateChallengeSent         State = "challenge_sent"
	StateVerified              State = "verified"
	StateSessionEstablished    State = "session_established"
	StateFailed                State = "failed"
)

// Step names a single platform-facing operation; used in errors, logs and metrics.
type Step string

const (
	StepSubmitPhone        Step = "submit_phone"
	StepSelectOrganization Step = "select_organization"
	StepEnrollFactor       Step = "enroll_factor"
	StepChallengeFactor    Step = "challenge_factor"
	StepVerifyChallenge    Step = "verify_challenge"
	StepSessionBridge      Step = "session_bridge"
)

// Attempt is the caller-held correlation state for one phone login.
//
// Transitions never mutate their input; each returns a new value. The code is never stored.
type Attempt struct {
	ID             string `json:"id"`
	PhoneNumber    string `json:"phone_number"`
	Email          string `json:"email"`
	UserID         string `json:"user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	FactorID       string `json:"factor_id,omitempty"`
	ChallengeID    string `json:"challenge_id,omitempty"`
	State          State  `json:"state"`
	// Recoverable is set when the last failure was an invalid code; verification or a new
	// challenge may still follow.
	Recoverable bool `json:"recoverable,omitempty"`
}

// Done reports whether the attempt should be discarded by its holder.
func (a Attempt) Done() bool {
	return a.State == StateSessionEstablished || (a.State == StateFailed && !a.Recoverable)
}

func (a Attempt) fail(recoverable bool) Attempt {
	a.State = StateFailed
	a.Recoverable = recoverable
	return a
}

func (a Attempt) to(s State) Attempt {
	a.State = s
	a.Recoverable = false
	return a
}

// canChallenge: a factor exists and the attempt is not finished.
func (a Attempt) canChallenge() bool {
	switch a.State {
	case StateFactorEnrolled, StateChallengeSent:
		return true
	case StateFailed:
		return a.Recoverable
	}
	return false
}

func (a Attempt) canVerify() bool {
	switch a.State {
	case StateChallengeSent:
		return true
	case StateFailed:
		return a.Recoverable
	}
	return false
}

// AuthenticationResult is returned to the caller after the session has been persisted.
type AuthenticationResult struct {
	UserID         string       `json:"user_id"`
	OrganizationID string       `json:"organization_id,omitempty"`
	User           PlatformUser `json:"user"`
}
