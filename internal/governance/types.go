// Package governance holds the onboarding side of the exchange: the MOU
// document, per-organization accounts, the authorization vote engine and
// ATO compliance records.
package governance

import (
	"errors"
	"time"
)

// Status is an organization's authorization standing.
type Status string

const (
	StatusAuthorized   Status = "AUTHORIZED"
	StatusUnauthorized Status = "UNAUTHORIZED"
)

// Account tracks one organization's membership state. Accounts are created
// implicitly (bootstrap for the home organization, first MOU signature for
// everyone else) and never deleted.
type Account struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	MOUVersion int    `json:"mouVersion"`
	Joined     bool   `json:"joined"`
}

// MOU is the versioned memorandum of understanding. Updates append a new
// version; prior versions stay immutable in the ledger history.
type MOU struct {
	Text      string    `json:"text"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteResult is the lifecycle state of a ballot.
type VoteResult string

const (
	VoteOngoing VoteResult = "ONGOING"
	VotePassed  VoteResult = "PASSED"
	VoteFailed  VoteResult = "FAILED"
)

// ThresholdMajority requires strictly more than half of the eligible
// organizations to vote yes.
const ThresholdMajority = "MAJORITY"

// Vote is one authorization-status ballot. Eligible is fixed at initiation:
// the joined organizations plus the initiator.
type Vote struct {
	ID                  string          `json:"id"`
	InitiatingAccountID string          `json:"initiatingAccountId"`
	TargetAccountID     string          `json:"targetAccountId"`
	StatusChange        Status          `json:"statusChange"`
	Reason              string          `json:"reason"`
	Threshold           string          `json:"threshold"`
	Eligible            []string        `json:"eligible"`
	Voters              []string        `json:"voters"`
	SubmittedVotes      map[string]bool `json:"submittedVotes"`
	Result              VoteResult      `json:"result"`
}

// Feedback is one comment on an ATO version, attributed to the commenting
// organization.
type Feedback struct {
	AccountID  string `json:"accountId"`
	ATOVersion int    `json:"atoVersion"`
	Comments   string `json:"comments"`
}

// ATO is an organization's Authority to Operate record. Feedback appends
// without bumping the version; memo/artifact updates bump it.
type ATO struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"accountId"`
	Memo        string     `json:"memo"`
	Artifacts   string     `json:"artifacts"`
	Version     int        `json:"version"`
	Created     time.Time  `json:"creationTimestamp"`
	LastUpdated time.Time  `json:"lastUpdatedTimestamp"`
	Feedback    []Feedback `json:"feedback"`
}

// AccountSnapshot is one historical account state with its commit stamp.
type AccountSnapshot struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	Account   Account   `json:"account"`
}

// ATOSnapshot is one historical ATO state with its commit stamp.
type ATOSnapshot struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	ATO       ATO       `json:"ato"`
}

// aggregate is the single governance root. The ongoing vote lives here as
// an explicit optional field, never as ambient state.
type aggregate struct {
	Bootstrapped bool  `json:"bootstrapped"`
	OngoingVote  *Vote `json:"ongoingVote,omitempty"`
}

var (
	ErrNotFound            = errors.New("does not exist")
	ErrNotBootstrapped     = errors.New("exchange has not been bootstrapped")
	ErrAlreadyBootstrapped = errors.New("already bootstrapped")
	ErrMOUNotCreated       = errors.New("MOU has not yet been created")
	ErrVersionMismatch     = errors.New("mou version mismatch")
	ErrAlreadySigned       = errors.New("already signed")
	ErrAlreadyJoined       = errors.New("already joined")
	ErrMOUNotSigned        = errors.New("current mou not signed")
	ErrOngoingVoteExists   = errors.New("there is already an ongoing vote")
	ErrNoOngoingVote       = errors.New("no ongoing vote")
	ErrSelfVote            = errors.New("cannot initiate a vote on own account")
	ErrAlreadyVoted        = errors.New("already voted")
	ErrNotEligible         = errors.New("not eligible to vote")
	ErrATOExists           = errors.New("ATO already exists")
	ErrATOVersion          = errors.New("feedback must target the current ATO version")
)
