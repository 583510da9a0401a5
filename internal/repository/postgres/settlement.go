package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
)

const winnerColumns = "id, auction_id, bidder_id, winning_bid_id, amount::text, paid, paid_at, created_at"

const paymentColumns = "id, auction_id, user_id, amount::text, currency, status, attempts, " +
	"last_error, provider_ref, submitted_at, created_at, updated_at"

func scanWinner(row pgx.Row) (models.AuctionWinner, error) {
	var (
		w      models.AuctionWinner
		amount string
	)
	if err := row.Scan(&w.WinnerID, &w.AuctionID, &w.BidderID, &w.WinningBidID, &amount, &w.Paid, &w.PaidAt, &w.CreatedAt); err != nil {
		return models.AuctionWinner{}, err
	}
	var err error
	if w.Amount, err = parseMoney(amount); err != nil {
		return models.AuctionWinner{}, err
	}
	return w, nil
}

func scanPayment(row pgx.Row) (models.Payment, error) {
	var (
		p              models.Payment
		amount, status string
	)
	err := row.Scan(
		&p.PaymentID, &p.AuctionID, &p.UserID, &amount, &p.Currency, &status, &p.Attempts,
		&p.LastError, &p.ProviderRef, &p.SubmittedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return models.Payment{}, err
	}
	p.Status = models.PaymentStatus(status)
	if p.Amount, err = parseMoney(amount); err != nil {
		return models.Payment{}, err
	}
	return p, nil
}

// CreateWinner inserts the winner unless the auction already has one.
func (s *Store) CreateWinner(ctx context.Context, w models.AuctionWinner) (models.AuctionWinner, bool, error) {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}
	query, args, err := psql.Insert("auction_winners").
		Columns("id", "auction_id", "bidder_id", "winning_bid_id", "amount", "created_at").
		Values(w.WinnerID, w.AuctionID, w.BidderID, w.WinningBidID, money(w.Amount), w.CreatedAt).
		Suffix("ON CONFLICT (auction_id) DO NOTHING RETURNING " + winnerColumns).
		ToSql()
	if err != nil {
		return models.AuctionWinner{}, false, fmt.Errorf("build insert winner: %w", err)
	}

	created, err := scanWinner(s.db.QueryRow(ctx, query, args...))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.AuctionWinner{}, false, mapError(err, "winner for auction", w.AuctionID, biddingerrors.ErrWinnerNotFound)
	}

	existing, err := s.GetWinner(ctx, w.AuctionID)
	if err != nil {
		return models.AuctionWinner{}, false, err
	}
	return existing, false, nil
}

// GetWinner returns the winner of an auction.
func (s *Store) GetWinner(ctx context.Context, auctionID string) (models.AuctionWinner, error) {
	query, args, err := psql.Select(winnerColumns).From("auction_winners").
		Where(sq.Eq{"auction_id": auctionID}).
		ToSql()
	if err != nil {
		return models.AuctionWinner{}, fmt.Errorf("build select winner: %w", err)
	}

	w, err := scanWinner(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return models.AuctionWinner{}, mapError(err, "winner for auction", auctionID, biddingerrors.ErrWinnerNotFound)
	}
	return w, nil
}

// MarkWinnerPaid flags the winner as paid, keeping the first paid_at.
func (s *Store) MarkWinnerPaid(ctx context.Context, auctionID string, paidAt time.Time) (models.AuctionWinner, error) {
	query, args, err := psql.Update("auction_winners").
		Set("paid", true).
		Set("paid_at", sq.Expr("COALESCE(paid_at, ?)", paidAt)).
		Where(sq.Eq{"auction_id": auctionID}).
		Suffix("RETURNING " + winnerColumns).
		ToSql()
	if err != nil {
		return models.AuctionWinner{}, fmt.Errorf("build mark winner paid: %w", err)
	}

	w, err := scanWinner(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return models.AuctionWinner{}, mapError(err, "winner for auction", auctionID, biddingerrors.ErrWinnerNotFound)
	}
	return w, nil
}

// CreatePayment inserts the payment unless the auction already has one.
func (s *Store) CreatePayment(ctx context.Context, p models.Payment) (models.Payment, bool, error) {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.Status == "" {
		p.Status = models.PaymentPending
	}
	query, args, err := psql.Insert("payments").
		Columns("id", "auction_id", "user_id", "amount", "currency", "status", "attempts", "created_at", "updated_at").
		Values(p.PaymentID, p.AuctionID, p.UserID, money(p.Amount), p.Currency, string(p.Status), p.Attempts, p.CreatedAt, now).
		Suffix("ON CONFLICT (auction_id) DO NOTHING RETURNING " + paymentColumns).
		ToSql()
	if err != nil {
		return models.Payment{}, false, fmt.Errorf("build insert payment: %w", err)
	}

	created, err := scanPayment(s.db.QueryRow(ctx, query, args...))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Payment{}, false, mapError(err, "payment for auction", p.AuctionID, biddingerrors.ErrPaymentNotFound)
	}

	existing, err := s.GetPaymentByAuction(ctx, p.AuctionID)
	if err != nil {
		return models.Payment{}, false, err
	}
	return existing, false, nil
}

// GetPaymentByAuction returns the payment for an auction.
func (s *Store) GetPaymentByAuction(ctx context.Context, auctionID string) (models.Payment, error) {
	query, args, err := psql.Select(paymentColumns).From("payments").
		Where(sq.Eq{"auction_id": auctionID}).
		ToSql()
	if err != nil {
		return models.Payment{}, fmt.Errorf("build select payment: %w", err)
	}

	p, err := scanPayment(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Payment{}, mapError(err, "payment for auction", auctionID, biddingerrors.ErrPaymentNotFound)
	}
	return p, nil
}

// UpdatePayment persists the mutable payment fields.
func (s *Store) UpdatePayment(ctx context.Context, p models.Payment) error {
	query, args, err := psql.Update("payments").
		Set("status", string(p.Status)).
		Set("attempts", p.Attempts).
		Set("last_error", p.LastError).
		Set("provider_ref", p.ProviderRef).
		Set("submitted_at", p.SubmittedAt).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"auction_id": p.AuctionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update payment: %w", err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, "payment for auction", p.AuctionID, biddingerrors.ErrPaymentNotFound)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update payment for auction %s: %w", p.AuctionID, biddingerrors.ErrPaymentNotFound)
	}
	return nil
}

// ListUnsubmittedPayments returns pending payments the gateway never acknowledged, oldest first.
func (s *Store) ListUnsubmittedPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	q := psql.Select(paymentColumns).From("payments").
		Where(sq.Eq{"status": string(models.PaymentPending)}).
		Where(sq.Eq{"submitted_at": nil}).
		OrderBy("created_at ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unsubmitted payments: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unsubmitted payments: %w", err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
