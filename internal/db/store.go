package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"vote-escrow/internal/address"
	"vote-escrow/internal/models"
	"vote-escrow/internal/registry"
	"vote-escrow/internal/wallet"

	"gorm.io/gorm"
)

// Store keeps registry state in the tables of the models package.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Load reads the whole registry inside one read-only transaction, so a
// concurrent Commit is seen either entirely or not at all.
func (s *Store) Load(ctx context.Context) (registry.State, error) {
	var state registry.State
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		state, err = s.load(tx)
		return err
	}, s.readOptions())
	return state, err
}

// readOptions asks postgres for one snapshot across every query of Load.
// A sqlite transaction reads from a single snapshot already.
func (s *Store) readOptions() *sql.TxOptions {
	if s.db.Dialector.Name() == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return &sql.TxOptions{}
}

func (s *Store) load(tx *gorm.DB) (registry.State, error) {
	var ledger models.Ledger
	if err := tx.First(&ledger, models.LedgerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return registry.State{}, nil
		}
		return registry.State{}, s.logError("store_load_ledger_failed", err)
	}
	commission, err := parseWei(ledger.Commission)
	if err != nil {
		return registry.State{}, fmt.Errorf("ledger commission: %w", err)
	}
	state := registry.State{
		Owner:      address.Address(ledger.Owner),
		Commission: commission,
	}

	var voterRows []models.RoundVoter
	if err := tx.Order("round_id ASC, position ASC").Find(&voterRows).Error; err != nil {
		return registry.State{}, s.logError("store_load_voters_failed", err)
	}
	voters := make(map[uint64][]address.Address)
	for _, v := range voterRows {
		voters[v.RoundID] = append(voters[v.RoundID], address.Address(v.Address))
	}

	var roundRows []models.Round
	if err := tx.Order("id ASC").Find(&roundRows).Error; err != nil {
		return registry.State{}, s.logError("store_load_rounds_failed", err)
	}
	for _, row := range roundRows {
		pool, err := parseWei(row.Pool)
		if err != nil {
			return registry.State{}, fmt.Errorf("round %d pool: %w", row.ID, err)
		}
		state.Rounds = append(state.Rounds, registry.RoundState{
			ID:          row.ID,
			Voters:      voters[row.ID],
			CreatedAt:   row.CreatedAt.UTC(),
			Deadline:    row.Deadline.UTC(),
			Pool:        pool,
			Leader:      address.Address(row.Leader),
			LeaderVotes: row.LeaderVotes,
			Finished:    row.Finished,
		})
	}

	var voteRows []models.Vote
	if err := tx.Order("id ASC").Find(&voteRows).Error; err != nil {
		return registry.State{}, s.logError("store_load_votes_failed", err)
	}
	for _, row := range voteRows {
		fee, err := parseWei(row.Fee)
		if err != nil {
			return registry.State{}, fmt.Errorf("vote %d fee: %w", row.ID, err)
		}
		state.Votes = append(state.Votes, registry.Vote{
			RoundID:   row.RoundID,
			Voter:     address.Address(row.Voter),
			Candidate: address.Address(row.Candidate),
			Fee:       fee,
			CastAt:    row.CastAt.UTC(),
		})
	}

	var transferRows []models.Transfer
	if err := tx.Order("id ASC").Find(&transferRows).Error; err != nil {
		return registry.State{}, s.logError("store_load_transfers_failed", err)
	}
	for _, row := range transferRows {
		amount, err := parseWei(row.Amount)
		if err != nil {
			return registry.State{}, fmt.Errorf("transfer %d amount: %w", row.ID, err)
		}
		state.Transfers = append(state.Transfers, wallet.Transfer{
			Kind:    wallet.Kind(row.Kind),
			RoundID: row.RoundID,
			To:      address.Address(row.Recipient),
			Amount:  amount,
			At:      row.At.UTC(),
		})
	}
	return state, nil
}

// Commit writes every part of change in one transaction. The guards of
// change are checked by the UPDATE statements themselves, so of two writers
// racing on the same row exactly one succeeds and the other gets
// registry.ErrConflict.
func (s *Store) Commit(ctx context.Context, change registry.Change) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if change.Owner != "" {
			if err := tx.Create(&models.Ledger{
				ID:         models.LedgerID,
				Owner:      change.Owner.String(),
				Commission: "0",
			}).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("create ledger: %w", registry.ErrConflict)
				}
				return fmt.Errorf("create ledger: %w", err)
			}
		}
		if rs := change.NewRound; rs != nil {
			if err := tx.Create(&models.Round{
				ID:          rs.ID,
				CreatedAt:   rs.CreatedAt,
				Deadline:    rs.Deadline,
				Pool:        rs.Pool.String(),
				Leader:      rs.Leader.String(),
				LeaderVotes: rs.LeaderVotes,
				Finished:    rs.Finished,
			}).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("create round %d: %w", rs.ID, registry.ErrConflict)
				}
				return fmt.Errorf("create round %d: %w", rs.ID, err)
			}
			rows := make([]models.RoundVoter, 0, len(rs.Voters))
			for i, v := range rs.Voters {
				rows = append(rows, models.RoundVoter{RoundID: rs.ID, Position: i, Address: v.String()})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("create round %d voters: %w", rs.ID, err)
			}
		}
		if rs := change.Round; rs != nil {
			q := tx.Model(&models.Round{}).Where("id = ?", rs.ID)
			if b := change.RoundBefore; b != nil {
				q = q.Where("pool = ? AND leader = ? AND leader_votes = ? AND finished = ?",
					b.Pool.String(), b.Leader.String(), b.LeaderVotes, b.Finished)
			}
			res := q.Updates(map[string]any{
				"pool":         rs.Pool.String(),
				"leader":       rs.Leader.String(),
				"leader_votes": rs.LeaderVotes,
				"finished":     rs.Finished,
			})
			if res.Error != nil {
				return fmt.Errorf("update round %d: %w", rs.ID, res.Error)
			}
			if res.RowsAffected != 1 {
				var n int64
				if err := tx.Model(&models.Round{}).Where("id = ?", rs.ID).Count(&n).Error; err != nil {
					return fmt.Errorf("count round %d: %w", rs.ID, err)
				}
				if n == 0 {
					return fmt.Errorf("update round %d: %w", rs.ID, registry.ErrNotFound)
				}
				return fmt.Errorf("update round %d: %w", rs.ID, registry.ErrConflict)
			}
		}
		if v := change.Vote; v != nil {
			if err := tx.Create(&models.Vote{
				RoundID:   v.RoundID,
				Voter:     v.Voter.String(),
				Candidate: v.Candidate.String(),
				Fee:       v.Fee.String(),
				CastAt:    v.CastAt,
			}).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("round %d: %w", v.RoundID, registry.ErrAlreadyVoted)
				}
				return fmt.Errorf("create vote: %w", err)
			}
		}
		if change.Commission != nil {
			q := tx.Model(&models.Ledger{}).Where("id = ?", models.LedgerID)
			if change.CommissionBefore != nil {
				q = q.Where("commission = ?", change.CommissionBefore.String())
			}
			res := q.Update("commission", change.Commission.String())
			if res.Error != nil {
				return fmt.Errorf("update commission: %w", res.Error)
			}
			if res.RowsAffected != 1 {
				if change.CommissionBefore != nil {
					return fmt.Errorf("update commission: %w", registry.ErrConflict)
				}
				return errors.New("update commission: ledger row missing")
			}
		}
		if len(change.Transfers) > 0 {
			rows := make([]models.Transfer, 0, len(change.Transfers))
			for _, t := range change.Transfers {
				rows = append(rows, models.Transfer{
					Kind:      string(t.Kind),
					RoundID:   t.RoundID,
					Recipient: t.To.String(),
					Amount:    t.Amount.String(),
					At:        t.At,
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("create transfers: %w", err)
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, registry.ErrConflict):
		s.logger.Debug("commit lost to a concurrent writer",
			"event", "store_commit_conflict",
			"component", "db",
			"error", err.Error(),
		)
		return err
	case err != nil:
		return s.logError("store_commit_failed", err)
	}
	return nil
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	args := append([]any{
		"event", event,
		"component", "db",
		"error", err.Error(),
	}, attrs...)
	s.logger.Error("store operation failed", args...)
	return err
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}
