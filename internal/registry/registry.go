// Package registry implements the voting escrow: fee-gated rounds with a
// running plurality leader, a one-time payout to the leader after the
// deadline, and the owner's commission ledger.
//
// Every operation runs under a single mutex, so the registry behaves as one
// serial ledger no matter how many goroutines call into it. Mutations are
// validated first, committed to the Store, and only then applied in memory.
// Registries in other processes may share the Store; a commit they beat is
// refused with ErrConflict, and the operation is replayed on reloaded state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"vote-escrow/internal/address"
	"vote-escrow/internal/commission"
	"vote-escrow/internal/logger"
	"vote-escrow/internal/wallet"

	"github.com/prometheus/client_golang/prometheus"
)

const component = "registry"

// maxConflictRetries bounds how often one operation is replayed after
// losing a commit to another writer.
const maxConflictRetries = 3

type Options struct {
	// Owner is the deployer. It is only required the first time a store
	// is opened; afterwards it must be empty or match the stored owner.
	Owner        address.Address
	Store        Store // nil keeps state in memory only
	Clock        Clock
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

type Registry struct {
	mu      sync.Mutex
	owner   address.Address
	rounds  []*Round
	ledger  *commission.Ledger
	wallet  *wallet.Wallet
	store   Store
	clock   Clock
	logger  *slog.Logger
	metrics *registryMetrics
}

// Open loads the registry from opts.Store, deploying it to opts.Owner when
// the store is empty.
func Open(ctx context.Context, opts Options) (*Registry, error) {
	r := &Registry{
		ledger: commission.NewLedger(nil),
		wallet: wallet.New(),
		store:  opts.Store,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
	if r.clock == nil {
		r.clock = SystemClock{}
	}
	if r.logger == nil {
		r.logger = logger.Discard()
	}
	r.initMetrics(opts.PromRegistry)

	var state State
	if r.store != nil {
		var err error
		if state, err = r.store.Load(ctx); err != nil {
			return nil, fmt.Errorf("load registry state: %w", err)
		}
	}
	switch {
	case state.Owner != "":
		if opts.Owner != "" && opts.Owner != state.Owner {
			return nil, fmt.Errorf("%w: %s", ErrOwnerMismatch, state.Owner)
		}
	case opts.Owner == "":
		return nil, ErrNotDeployed
	default:
		if !opts.Owner.Valid() {
			return nil, fmt.Errorf("%w: malformed owner %q", ErrInvalidArgument, opts.Owner)
		}
		err := r.commit(ctx, Change{Owner: opts.Owner})
		switch {
		case errors.Is(err, ErrConflict):
			// deployed by someone else in the meantime
			if state, err = r.store.Load(ctx); err != nil {
				return nil, fmt.Errorf("load registry state: %w", err)
			}
			if state.Owner != opts.Owner {
				return nil, fmt.Errorf("%w: %s", ErrOwnerMismatch, state.Owner)
			}
		case err != nil:
			return nil, err
		default:
			state.Owner = opts.Owner
			r.logger.Info("registry deployed",
				"event", "registry_deployed",
				"component", component,
				"owner", opts.Owner.String(),
			)
		}
	}
	if err := r.restore(state); err != nil {
		return nil, err
	}
	return r, nil
}

// restore replaces the in-memory state with state. Nothing changes when
// state is inconsistent.
func (r *Registry) restore(state State) error {
	votes := make(map[uint64][]Vote)
	for _, v := range state.Votes {
		if v.RoundID >= uint64(len(state.Rounds)) {
			return fmt.Errorf("vote for unknown round %d", v.RoundID)
		}
		votes[v.RoundID] = append(votes[v.RoundID], v)
	}
	rounds := make([]*Round, 0, len(state.Rounds))
	for i, rs := range state.Rounds {
		if rs.ID != uint64(i) {
			return fmt.Errorf("round ids are not sequential: found %d at position %d", rs.ID, i)
		}
		rounds = append(rounds, restoreRound(rs, votes[rs.ID]))
	}
	w := wallet.New()
	for _, t := range state.Transfers {
		w.Credit(t)
	}

	r.owner = state.Owner
	r.rounds = rounds
	r.ledger = commission.NewLedger(state.Commission)
	r.wallet = w
	r.metrics.commissionBalance.Set(weiFloat(r.ledger.Balance()))
	return nil
}

// reload replaces the in-memory state with what the store holds now.
func (r *Registry) reload(ctx context.Context) error {
	state, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load registry state: %w", err)
	}
	if state.Owner != r.owner {
		return fmt.Errorf("%w: %s", ErrOwnerMismatch, state.Owner)
	}
	return r.restore(state)
}

// retryOnConflict runs op and, each time another writer committed first,
// reloads the registry and runs op again. Callers hold r.mu.
func (r *Registry) retryOnConflict(ctx context.Context, operation string, op func() error) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || r.store == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		r.metrics.conflicts.WithLabelValues(operation).Inc()
		r.logger.Debug("commit conflict",
			"event", operation+"_conflict",
			"component", component,
			"attempt", attempt+1,
		)
		if attempt == maxConflictRetries {
			return err
		}
		if err := r.reload(ctx); err != nil {
			return fmt.Errorf("reload after conflict: %w", err)
		}
	}
}

func (r *Registry) commit(ctx context.Context, change Change) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Commit(ctx, change); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Registry) round(id uint64) (*Round, error) {
	if id >= uint64(len(r.rounds)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return r.rounds[id], nil
}

// CreateRound opens a new round whose candidates and deadline are fixed
// from now on. Owner only.
func (r *Registry) CreateRound(ctx context.Context, caller address.Address, voters []address.Address) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id uint64
	err := r.retryOnConflict(ctx, "create_round", func() (err error) {
		id, err = r.createRound(ctx, caller, voters)
		return err
	})
	return id, err
}

func (r *Registry) createRound(ctx context.Context, caller address.Address, voters []address.Address) (uint64, error) {
	if caller != r.owner {
		return 0, r.rejected("create_round", ErrUnauthorized, "caller", caller.String())
	}
	if len(voters) == 0 {
		return 0, r.rejected("create_round", fmt.Errorf("%w: empty voter list", ErrInvalidArgument))
	}
	for _, v := range voters {
		if !v.Valid() {
			return 0, r.rejected("create_round", fmt.Errorf("%w: malformed voter %q", ErrInvalidArgument, v))
		}
	}

	now := r.clock.Now()
	state := RoundState{
		ID:        uint64(len(r.rounds)),
		Voters:    append([]address.Address(nil), voters...),
		CreatedAt: now,
		Deadline:  now.Add(Duration),
		Pool:      new(big.Int),
	}
	if err := r.commit(ctx, Change{NewRound: &state}); err != nil {
		return 0, err
	}
	r.rounds = append(r.rounds, newRound(state))

	r.metrics.roundsCreated.Inc()
	r.logger.Info("round created",
		"event", "round_created",
		"component", component,
		"round_id", state.ID,
		"voters", len(voters),
		"deadline", state.Deadline,
	)
	return state.ID, nil
}

// CastVote records caller's vote for candidate, paid with payment, and
// returns the round's leader afterwards.
func (r *Registry) CastVote(ctx context.Context, caller address.Address, id uint64, candidate address.Address, payment *big.Int) (address.Address, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		leader address.Address
		votes  uint64
	)
	err := r.retryOnConflict(ctx, "vote", func() (err error) {
		leader, votes, err = r.castVote(ctx, caller, id, candidate, payment)
		return err
	})
	return leader, votes, err
}

func (r *Registry) castVote(ctx context.Context, caller address.Address, id uint64, candidate address.Address, payment *big.Int) (address.Address, uint64, error) {
	if !caller.Valid() {
		return "", 0, r.rejected("vote", fmt.Errorf("%w: malformed caller %q", ErrInvalidArgument, caller))
	}
	if !candidate.Valid() {
		return "", 0, r.rejected("vote", fmt.Errorf("%w: malformed candidate %q", ErrInvalidArgument, candidate))
	}
	rnd, err := r.round(id)
	if err != nil {
		return "", 0, r.rejected("vote", err)
	}
	now := r.clock.Now()
	if !rnd.open(now) {
		return "", 0, r.rejected("vote", ErrRoundClosed, "round_id", id)
	}
	if payment == nil || payment.Cmp(VoteFee) != 0 {
		return "", 0, r.rejected("vote", ErrInvalidFee, "round_id", id)
	}
	if rnd.HasVoted(caller) {
		return "", 0, r.rejected("vote", ErrAlreadyVoted, "round_id", id, "caller", caller.String())
	}
	if !rnd.IsEligible(candidate) {
		return "", 0, r.rejected("vote", ErrInvalidCandidate, "round_id", id, "candidate", candidate.String())
	}

	vote := Vote{
		RoundID:   id,
		Voter:     caller,
		Candidate: candidate,
		Fee:       new(big.Int).Set(payment),
		CastAt:    now,
	}
	before := rnd.snapshot()
	next := rnd.afterVote(vote)
	if err := r.commit(ctx, Change{Round: &next, RoundBefore: &before, Vote: &vote}); err != nil {
		return "", 0, err
	}
	rnd.recordVote(vote, next)

	r.metrics.votesCast.Inc()
	r.logger.Debug("vote cast",
		"event", "vote_cast",
		"component", component,
		"round_id", id,
		"voter", caller.String(),
		"candidate", candidate.String(),
		"leader", rnd.Leader.String(),
		"leader_votes", rnd.LeaderVotes,
	)
	return rnd.Leader, rnd.LeaderVotes, nil
}

// Finalize pays out a round whose deadline has passed. Anyone may call it;
// once a round is finished further calls do nothing and return zero.
func (r *Registry) Finalize(ctx context.Context, caller address.Address, id uint64) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var paid *big.Int
	err := r.retryOnConflict(ctx, "finalize", func() (err error) {
		paid, err = r.finalize(ctx, caller, id)
		return err
	})
	return paid, err
}

func (r *Registry) finalize(ctx context.Context, caller address.Address, id uint64) (*big.Int, error) {
	rnd, err := r.round(id)
	if err != nil {
		return nil, r.rejected("finalize", err)
	}
	now := r.clock.Now()
	if !now.After(rnd.Deadline) {
		return nil, r.rejected("finalize", ErrRoundActive, "round_id", id)
	}
	if rnd.Finished {
		return new(big.Int), nil
	}

	payout, fee := commission.Split(rnd.Pool)
	before := rnd.snapshot()
	next := rnd.snapshot()
	next.Pool = new(big.Int)
	next.Finished = true
	var transfers []wallet.Transfer
	if rnd.Leader != "" {
		roundID := id
		transfers = append(transfers, wallet.Transfer{
			Kind:    wallet.KindPayout,
			RoundID: &roundID,
			To:      rnd.Leader,
			Amount:  payout,
			At:      now,
		})
	} else {
		payout = new(big.Int)
	}
	balance := r.ledger.After(fee)
	change := Change{
		Round:            &next,
		RoundBefore:      &before,
		Commission:       balance,
		CommissionBefore: r.ledger.Balance(),
		Transfers:        transfers,
	}
	if err := r.commit(ctx, change); err != nil {
		return nil, err
	}
	rnd.setState(next)
	r.ledger.Set(balance)
	for _, t := range transfers {
		r.wallet.Credit(t)
	}

	r.metrics.roundsFinalized.Inc()
	r.metrics.paidOut.Add(weiFloat(payout))
	r.metrics.commissionBalance.Set(weiFloat(balance))
	r.logger.Info("round finalized",
		"event", "round_finalized",
		"component", component,
		"round_id", id,
		"caller", caller.String(),
		"leader", rnd.Leader.String(),
		"payout", payout.String(),
		"commission", fee.String(),
	)
	return new(big.Int).Set(payout), nil
}

// Withdraw moves the whole commission balance to the owner.
func (r *Registry) Withdraw(ctx context.Context, caller address.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var amount *big.Int
	err := r.retryOnConflict(ctx, "withdraw", func() (err error) {
		amount, err = r.withdraw(ctx, caller)
		return err
	})
	return amount, err
}

func (r *Registry) withdraw(ctx context.Context, caller address.Address) (*big.Int, error) {
	if caller != r.owner {
		return nil, r.rejected("withdraw", ErrUnauthorized, "caller", caller.String())
	}
	amount := r.ledger.Balance()
	var transfers []wallet.Transfer
	if amount.Sign() > 0 {
		transfers = append(transfers, wallet.Transfer{
			Kind:   wallet.KindWithdrawal,
			To:     r.owner,
			Amount: amount,
			At:     r.clock.Now(),
		})
	}
	change := Change{Commission: new(big.Int), CommissionBefore: amount, Transfers: transfers}
	if err := r.commit(ctx, change); err != nil {
		return nil, err
	}
	r.ledger.Drain()
	for _, t := range transfers {
		r.wallet.Credit(t)
	}

	r.metrics.withdrawals.Inc()
	r.metrics.commissionBalance.Set(0)
	r.logger.Info("commission withdrawn",
		"event", "commission_withdrawn",
		"component", component,
		"owner", r.owner.String(),
		"amount", amount.String(),
	)
	return amount, nil
}

// rejected counts and logs a refused operation and returns err unchanged.
func (r *Registry) rejected(operation string, err error, attrs ...any) error {
	r.metrics.reject(operation, err)
	args := append([]any{
		"event", operation + "_rejected",
		"component", component,
		"reason", rejectionReason(err),
		"error", err.Error(),
	}, attrs...)
	r.logger.Debug("operation rejected", args...)
	return err
}

// RoundView returns a snapshot of one round.
func (r *Registry) RoundView(id uint64) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rnd, err := r.round(id)
	if err != nil {
		return View{}, err
	}
	return rnd.view(r.clock.Now()), nil
}

// Rounds returns snapshots of every round in id order.
func (r *Registry) Rounds() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewsLocked(r.clock.Now())
}

func (r *Registry) viewsLocked(now time.Time) []View {
	out := make([]View, 0, len(r.rounds))
	for _, rnd := range r.rounds {
		out = append(out, rnd.view(now))
	}
	return out
}

// Overview is a consistent picture of the whole registry at one instant.
type Overview struct {
	At         time.Time
	Owner      address.Address
	Commission *big.Int
	Rounds     []View
}

func (r *Registry) Overview() Overview {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	return Overview{
		At:         now,
		Owner:      r.owner,
		Commission: r.ledger.Balance(),
		Rounds:     r.viewsLocked(now),
	}
}

func (r *Registry) Owner() address.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// Commission returns the balance available to Withdraw.
func (r *Registry) Commission() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Balance()
}

// BalanceOf returns what payouts and withdrawals have credited to a.
func (r *Registry) BalanceOf(a address.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wallet.BalanceOf(a)
}

func (r *Registry) Transfers() []wallet.Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wallet.Transfers()
}
