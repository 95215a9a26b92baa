package registry

import (
	"math/big"
	"time"

	"vote-escrow/internal/address"
)

const (
	// Duration is how long a round accepts votes.
	Duration = 3 * 24 * time.Hour
)

// VoteFee is the exact payment a vote must carry: 0.01 ether in wei.
var VoteFee = big.NewInt(10_000_000_000_000_000)

// RoundState is the persisted shape of a round, without its vote log.
type RoundState struct {
	ID          uint64
	Voters      []address.Address
	CreatedAt   time.Time
	Deadline    time.Time
	Pool        *big.Int
	Leader      address.Address // empty until the first vote
	LeaderVotes uint64
	Finished    bool
}

// Vote is one entry of a round's vote log.
type Vote struct {
	RoundID   uint64
	Voter     address.Address
	Candidate address.Address
	Fee       *big.Int
	CastAt    time.Time
}

// Round is a RoundState plus the indexes needed to validate votes.
type Round struct {
	RoundState
	votes    []Vote
	tally    map[address.Address]uint64
	voted    map[address.Address]struct{}
	eligible map[address.Address]struct{}
}

func newRound(state RoundState) *Round {
	r := &Round{
		RoundState: state,
		tally:      make(map[address.Address]uint64),
		voted:      make(map[address.Address]struct{}),
		eligible:   make(map[address.Address]struct{}, len(state.Voters)),
	}
	if r.Pool == nil {
		r.Pool = new(big.Int)
	}
	for _, v := range r.Voters {
		r.eligible[v] = struct{}{}
	}
	return r
}

// restoreRound rebuilds a round from persisted state and its vote log.
// Tally, voter set and leader are replayed from the log in order; pool and
// finished come from the persisted state since a paid out pool is zero.
func restoreRound(state RoundState, votes []Vote) *Round {
	r := newRound(state)
	r.Leader = ""
	r.LeaderVotes = 0
	for _, v := range votes {
		count := r.tally[v.Candidate] + 1
		r.tally[v.Candidate] = count
		r.voted[v.Voter] = struct{}{}
		if count > r.LeaderVotes {
			r.Leader, r.LeaderVotes = v.Candidate, count
		}
		r.votes = append(r.votes, v)
	}
	return r
}

// open reports whether the round accepts votes at now.
func (r *Round) open(now time.Time) bool {
	return !r.Finished && !now.After(r.Deadline)
}

func (r *Round) IsEligible(a address.Address) bool {
	_, ok := r.eligible[a]
	return ok
}

func (r *Round) HasVoted(a address.Address) bool {
	_, ok := r.voted[a]
	return ok
}

func (r *Round) VotesFor(a address.Address) uint64 {
	return r.tally[a]
}

// afterVote returns the state the round would have once v is recorded.
// Ties never replace the incumbent leader.
func (r *Round) afterVote(v Vote) RoundState {
	next := r.snapshot()
	next.Pool.Add(next.Pool, v.Fee)
	if count := r.tally[v.Candidate] + 1; count > r.LeaderVotes {
		next.Leader, next.LeaderVotes = v.Candidate, count
	}
	return next
}

func (r *Round) recordVote(v Vote, next RoundState) {
	r.tally[v.Candidate]++
	r.voted[v.Voter] = struct{}{}
	r.votes = append(r.votes, v)
	r.setState(next)
}

func (r *Round) setState(s RoundState) {
	r.Pool = new(big.Int).Set(s.Pool)
	r.Leader = s.Leader
	r.LeaderVotes = s.LeaderVotes
	r.Finished = s.Finished
}

// snapshot deep-copies the round state.
func (r *Round) snapshot() RoundState {
	s := r.RoundState
	s.Voters = append([]address.Address(nil), r.Voters...)
	s.Pool = new(big.Int).Set(r.Pool)
	return s
}

// View is the read-only picture of a round handed to callers.
type View struct {
	ID          uint64
	Leader      address.Address
	Pool        *big.Int
	Deadline    time.Time
	LeaderVotes uint64
	Finished    bool
	Voters      []address.Address
	VoteCount   int
	Open        bool
}

func (r *Round) view(now time.Time) View {
	s := r.snapshot()
	return View{
		ID:          s.ID,
		Leader:      s.Leader,
		Pool:        s.Pool,
		Deadline:    s.Deadline,
		LeaderVotes: s.LeaderVotes,
		Finished:    s.Finished,
		Voters:      s.Voters,
		VoteCount:   len(r.votes),
		Open:        r.open(now),
	}
}
