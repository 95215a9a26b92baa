package registry

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"vote-escrow/internal/address"
	"vote-escrow/internal/wallet"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore applies changes to a State the way a real store would, guards
// included, and can be told to fail every commit.
type memStore struct {
	state    State
	commits  int
	attempts int
	failing  error
}

func (s *memStore) Load(context.Context) (State, error) {
	return s.state, nil
}

func (s *memStore) Commit(_ context.Context, c Change) error {
	s.attempts++
	if s.failing != nil {
		return s.failing
	}
	if err := s.check(c); err != nil {
		return err
	}
	s.commits++
	if c.Owner != "" {
		s.state.Owner = c.Owner
	}
	if c.NewRound != nil {
		s.state.Rounds = append(s.state.Rounds, *c.NewRound)
	}
	if c.Round != nil {
		rs := &s.state.Rounds[c.Round.ID]
		rs.Pool = new(big.Int).Set(c.Round.Pool)
		rs.Leader = c.Round.Leader
		rs.LeaderVotes = c.Round.LeaderVotes
		rs.Finished = c.Round.Finished
	}
	if c.Vote != nil {
		s.state.Votes = append(s.state.Votes, *c.Vote)
	}
	if c.Commission != nil {
		s.state.Commission = new(big.Int).Set(c.Commission)
	}
	s.state.Transfers = append(s.state.Transfers, c.Transfers...)
	return nil
}

func (s *memStore) check(c Change) error {
	if c.Owner != "" && s.state.Owner != "" {
		return ErrConflict
	}
	if c.NewRound != nil && c.NewRound.ID != uint64(len(s.state.Rounds)) {
		return ErrConflict
	}
	if c.Round != nil {
		if c.Round.ID >= uint64(len(s.state.Rounds)) {
			return ErrNotFound
		}
		cur := s.state.Rounds[c.Round.ID]
		if b := c.RoundBefore; b != nil {
			if cur.Pool.Cmp(b.Pool) != 0 || cur.Leader != b.Leader ||
				cur.LeaderVotes != b.LeaderVotes || cur.Finished != b.Finished {
				return ErrConflict
			}
		}
	}
	if c.Vote != nil {
		for _, v := range s.state.Votes {
			if v.RoundID == c.Vote.RoundID && v.Voter == c.Vote.Voter {
				return ErrAlreadyVoted
			}
		}
	}
	if c.CommissionBefore != nil {
		cur := s.state.Commission
		if cur == nil {
			cur = new(big.Int)
		}
		if cur.Cmp(c.CommissionBefore) != 0 {
			return ErrConflict
		}
	}
	return nil
}

func TestReopenRestoresState(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, store)
	ctx := context.Background()

	r1 := f.createRound(t, f.a, f.b)
	r2 := f.createRound(t, f.a, f.b)
	f.vote(t, f.users[0], r1, f.a)
	f.vote(t, f.users[1], r1, f.b)
	f.vote(t, f.users[2], r2, f.b)
	f.clock.Advance(Duration + time.Second)
	_, err := f.reg.Finalize(ctx, f.users[0], r2)
	require.NoError(t, err)

	reopened, err := Open(ctx, Options{Store: store, Clock: f.clock})
	require.NoError(t, err)
	assert.Equal(t, f.owner, reopened.Owner())
	assert.Equal(t, f.reg.Rounds(), reopened.Rounds())
	assert.Equal(t, f.reg.Commission(), reopened.Commission())
	assert.Equal(t, f.reg.BalanceOf(f.b), reopened.BalanceOf(f.b))

	// replayed indexes still enforce one vote per caller and the tie rule
	f.clock.Set(start)
	_, _, err = reopened.CastVote(ctx, f.users[0], r1, f.b, fee())
	require.ErrorIs(t, err, ErrAlreadyVoted)
	leader, votes, err := reopened.CastVote(ctx, f.users[3], r1, f.b, fee())
	require.NoError(t, err)
	assert.Equal(t, f.b, leader)
	assert.Equal(t, uint64(2), votes)

	// the finished round stays paid
	f.clock.Advance(Duration + time.Second)
	payout, err := reopened.Finalize(ctx, f.owner, r2)
	require.NoError(t, err)
	assert.Zero(t, payout.Sign())
}

func TestReopenOwnerChecks(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, store)

	_, err := Open(context.Background(), Options{Owner: f.a, Store: store})
	require.ErrorIs(t, err, ErrOwnerMismatch)

	reg, err := Open(context.Background(), Options{Owner: f.owner, Store: store})
	require.NoError(t, err)
	assert.Equal(t, f.owner, reg.Owner())
}

func TestFailedCommitLeavesStateUntouched(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, store)
	ctx := context.Background()
	id := f.createRound(t, f.a, f.b)
	f.vote(t, f.users[0], id, f.a)

	boom := errors.New("disk full")
	store.failing = boom

	_, err := f.reg.CreateRound(ctx, f.owner, []address.Address{f.a})
	require.ErrorIs(t, err, boom)
	assert.Len(t, f.reg.Rounds(), 1)

	_, _, err = f.reg.CastVote(ctx, f.users[1], id, f.a, fee())
	require.ErrorIs(t, err, boom)
	view, err := f.reg.RoundView(id)
	require.NoError(t, err)
	assert.Equal(t, fee(), view.Pool)
	assert.Equal(t, uint64(1), view.LeaderVotes)

	f.clock.Advance(Duration + time.Second)
	_, err = f.reg.Finalize(ctx, f.users[1], id)
	require.ErrorIs(t, err, boom)
	view, err = f.reg.RoundView(id)
	require.NoError(t, err)
	assert.False(t, view.Finished)
	assert.Zero(t, f.reg.BalanceOf(f.a).Sign())
	assert.Zero(t, f.reg.Commission().Sign())

	// once the store recovers the same operations go through
	store.failing = nil
	payout, err := f.reg.Finalize(ctx, f.users[1], id)
	require.NoError(t, err)
	assert.Equal(t, wei(9, 10), payout)

	store.failing = boom
	_, err = f.reg.Withdraw(ctx, f.owner)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, wei(1, 10), f.reg.Commission())
	assert.Zero(t, f.reg.BalanceOf(f.owner).Sign())
}

func TestCommitsCarryTransfers(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, store)
	ctx := context.Background()
	id := f.createRound(t, f.a)
	f.vote(t, f.users[0], id, f.a)
	f.clock.Advance(Duration + time.Second)
	_, err := f.reg.Finalize(ctx, f.users[0], id)
	require.NoError(t, err)
	_, err = f.reg.Withdraw(ctx, f.owner)
	require.NoError(t, err)

	require.Len(t, store.state.Transfers, 2)
	assert.Equal(t, wallet.KindPayout, store.state.Transfers[0].Kind)
	assert.Equal(t, wallet.KindWithdrawal, store.state.Transfers[1].Kind)
	assert.Equal(t, f.owner, store.state.Transfers[1].To)
	assert.Zero(t, store.state.Commission.Sign())
	// owner, round, vote, finalize, withdraw
	assert.Equal(t, 5, store.commits)
}

func TestRestoreRejectsCorruptState(t *testing.T) {
	owner := address.Generate()
	store := &memStore{state: State{
		Owner:  owner,
		Rounds: []RoundState{{ID: 1, Voters: []address.Address{owner}, Pool: new(big.Int)}},
	}}
	_, err := Open(context.Background(), Options{Store: store})
	require.Error(t, err)

	store.state.Rounds[0].ID = 0
	store.state.Votes = []Vote{{RoundID: 3, Voter: owner, Candidate: owner, Fee: fee()}}
	_, err = Open(context.Background(), Options{Store: store})
	require.Error(t, err)
}

func TestStaleRegistryCatchesUp(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, store)
	ctx := context.Background()
	id := f.createRound(t, f.a, f.b)

	other, err := Open(ctx, Options{Store: store, Clock: f.clock})
	require.NoError(t, err)

	f.vote(t, f.users[0], id, f.a)
	// other has not seen the first vote
	leader, votes, err := other.CastVote(ctx, f.users[1], id, f.a, fee())
	require.NoError(t, err)
	assert.Equal(t, f.a, leader)
	assert.Equal(t, uint64(2), votes)
	assert.Len(t, store.state.Votes, 2)
	assert.Equal(t, wei(2, 1), store.state.Rounds[id].Pool)

	// nor the round f creates now
	second := f.createRound(t, f.a)
	third, err := other.CreateRound(ctx, f.owner, []address.Address{f.b})
	require.NoError(t, err)
	assert.Equal(t, second+1, third)

	f.clock.Advance(Duration + time.Second)
	payout, err := other.Finalize(ctx, f.users[2], id)
	require.NoError(t, err)
	assert.Equal(t, wei(18, 10), payout)
	payout, err = f.reg.Finalize(ctx, f.users[2], id)
	require.NoError(t, err)
	assert.Zero(t, payout.Sign())
	assert.Equal(t, wei(18, 10), f.reg.BalanceOf(f.a))

	amount, err := f.reg.Withdraw(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, wei(2, 10), amount)
	amount, err = other.Withdraw(ctx, f.owner)
	require.NoError(t, err)
	assert.Zero(t, amount.Sign())
	assert.Equal(t, wei(2, 10), other.BalanceOf(f.owner))
	require.Len(t, store.state.Transfers, 2)
}

func TestConflictRetriesAreBounded(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, store)
	id := f.createRound(t, f.a)

	store.failing = ErrConflict
	store.attempts = 0
	_, _, err := f.reg.CastVote(context.Background(), f.users[0], id, f.a, fee())
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, maxConflictRetries+1, store.attempts)
	assert.Equal(t, float64(maxConflictRetries+1), testutil.ToFloat64(f.reg.metrics.conflicts.WithLabelValues("vote")))

	view, err := f.reg.RoundView(id)
	require.NoError(t, err)
	assert.Zero(t, view.Pool.Sign())
	assert.Equal(t, 0, view.VoteCount)
}

func TestOpenAfterConcurrentDeploy(t *testing.T) {
	owner := address.Generate()
	store := &raceDeployStore{owner: owner}

	reg, err := Open(context.Background(), Options{Owner: owner, Store: store})
	require.NoError(t, err)
	assert.Equal(t, owner, reg.Owner())

	store = &raceDeployStore{owner: owner}
	_, err = Open(context.Background(), Options{Owner: address.Generate(), Store: store})
	require.ErrorIs(t, err, ErrOwnerMismatch)
}

// raceDeployStore reports an empty registry on the first Load and has been
// deployed to owner by the time Commit runs.
type raceDeployStore struct {
	memStore
	owner address.Address
	loads int
}

func (s *raceDeployStore) Load(ctx context.Context) (State, error) {
	s.loads++
	if s.loads == 1 {
		return State{}, nil
	}
	return s.memStore.Load(ctx)
}

func (s *raceDeployStore) Commit(ctx context.Context, c Change) error {
	if c.Owner != "" && s.state.Owner == "" {
		s.state.Owner = s.owner
	}
	return s.memStore.Commit(ctx, c)
}
