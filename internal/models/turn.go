// internal/models/turn.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnPhase advances strictly forward within one turn. Progression past
// complete happens by creating a new Turn, never by resetting phase.
type TurnPhase string

const (
	PhaseNew       TurnPhase = "new"
	PhaseAnswering TurnPhase = "answering"
	PhaseReading   TurnPhase = "reading"
	PhaseComplete  TurnPhase = "complete"
)

type VoteChoice string

const (
	VoteYes VoteChoice = "yes"
	VoteNo  VoteChoice = "no"
)

// Vote is a single voter's choice, attached to a prompt (prompt voting) or to
// a response (liking). PromptID is set only for prompt votes.
type Vote struct {
	VoterUID  uuid.UUID  `json:"voter_uid"`
	VoterName string     `json:"voter_name,omitempty"`
	Choice    VoteChoice `json:"choice"`
	PromptID  uuid.UUID  `json:"prompt_id,omitempty"`
}

// PlayerResponse is one player's submission for a turn.
type PlayerResponse struct {
	PlayerUID  uuid.UUID      `json:"player_uid"`
	PlayerName string         `json:"player_name,omitempty"`
	Cards      []CardInstance `json:"cards"`

	// RandomIndex shuffles reveal order so the judge cannot infer identity
	// from submission order. Reassigned on every (re)submission.
	RandomIndex int64 `json:"random_index"`

	// RevealCount supports revealing a multi-card response one card at a
	// time. Capped at len(Cards).
	RevealCount int `json:"reveal_count"`

	Likes []Vote `json:"likes,omitempty"`
}

// LikeCount counts the yes-votes on the response.
func (r PlayerResponse) LikeCount() int {
	n := 0
	for _, v := range r.Likes {
		if v.Choice == VoteYes {
			n++
		}
	}
	return n
}

// Turn is one round of play: a judge, a prompt, responses, a winner.
type Turn struct {
	ID       uuid.UUID `json:"id"`
	Ordinal  int       `json:"ordinal"` // 1-based, monotonically increasing
	JudgeUID uuid.UUID `json:"judge_uid"`
	Phase    TurnPhase `json:"phase"`

	PhaseStart time.Time `json:"phase_start"`
	// PhaseEnd is an advisory soft deadline; nothing server-side enforces it.
	PhaseEnd time.Time `json:"phase_end,omitempty"`

	Prompts []CardInstance `json:"prompts,omitempty"`

	// Responses is keyed by player uid string (JSON object keys).
	Responses map[string]*PlayerResponse `json:"responses,omitempty"`

	// PromptVotes holds at most one vote per (prompt, voter) pair.
	PromptVotes []Vote `json:"prompt_votes,omitempty"`

	WinnerUID         uuid.UUID   `json:"winner_uid,omitempty"`
	AudienceAwardUIDs []uuid.UUID `json:"audience_award_uids,omitempty"`
}

// Response returns the submission for a player uid, or nil.
func (t *Turn) Response(uid uuid.UUID) *PlayerResponse {
	if t.Responses == nil {
		return nil
	}
	return t.Responses[uid.String()]
}

// Prompt returns the attached prompt with the given instance id, or nil.
func (t *Turn) Prompt(id uuid.UUID) *CardInstance {
	for i := range t.Prompts {
		if t.Prompts[i].ID == id {
			return &t.Prompts[i]
		}
	}
	return nil
}
