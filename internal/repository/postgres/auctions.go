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

const auctionColumns = "id, ad_id, starting_price::text, current_price::text, bid_increment::text, " +
	"start_time, end_time, status, version, high_bid_id, high_bidder_id, bid_count, settled, created_at, updated_at"

const bidColumns = "id, auction_id, bidder_id, amount::text, sequence, submitted_at, bid_time"

const defaultListLimit = 50

func scanAuction(row pgx.Row) (models.Auction, error) {
	var (
		a                                 models.Auction
		starting, current, increment, st string
	)
	err := row.Scan(
		&a.AuctionID, &a.AdID, &starting, &current, &increment,
		&a.StartTime, &a.EndTime, &st, &a.Version, &a.HighBidID, &a.HighBidderID,
		&a.BidCount, &a.Settled, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return models.Auction{}, err
	}
	a.Status = models.AuctionStatus(st)
	if a.StartingPrice, err = parseMoney(starting); err != nil {
		return models.Auction{}, err
	}
	if a.CurrentPrice, err = parseMoney(current); err != nil {
		return models.Auction{}, err
	}
	if a.BidIncrement, err = parseMoney(increment); err != nil {
		return models.Auction{}, err
	}
	return a, nil
}

func scanBid(row pgx.Row) (models.Bid, error) {
	var (
		b      models.Bid
		amount string
	)
	if err := row.Scan(&b.BidID, &b.AuctionID, &b.BidderID, &amount, &b.Sequence, &b.SubmittedAt, &b.BidTime); err != nil {
		return models.Bid{}, err
	}
	var err error
	if b.Amount, err = parseMoney(amount); err != nil {
		return models.Bid{}, err
	}
	return b, nil
}

func collectAuctions(rows pgx.Rows) ([]models.Auction, error) {
	defer rows.Close()
	var out []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAuction inserts a new auction.
func (s *Store) CreateAuction(ctx context.Context, a models.Auction) error {
	query, args, err := psql.Insert("auctions").
		Columns("id", "ad_id", "starting_price", "current_price", "bid_increment",
			"start_time", "end_time", "status", "version", "created_at", "updated_at").
		Values(a.AuctionID, a.AdID, money(a.StartingPrice), money(a.CurrentPrice), money(a.BidIncrement),
			a.StartTime, a.EndTime, string(a.Status), a.Version, a.CreatedAt, a.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert auction: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return mapError(err, "auction", a.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	return nil
}

// GetAuction returns an auction by primary key.
func (s *Store) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	query, args, err := psql.Select(auctionColumns).From("auctions").Where(sq.Eq{"id": auctionID}).ToSql()
	if err != nil {
		return models.Auction{}, fmt.Errorf("build select auction: %w", err)
	}

	a, err := scanAuction(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Auction{}, mapError(err, "auction", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// ListAuctions returns auctions ordered by creation time.
func (s *Store) ListAuctions(ctx context.Context, filter models.AuctionFilter) ([]models.Auction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := psql.Select(auctionColumns).From("auctions").
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)).
		Offset(uint64(max(filter.Offset, 0)))
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list auctions: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	auctions, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("scan auctions: %w", err)
	}
	return auctions, nil
}

// ListDueAuctions returns auctions needing a lifecycle step at now.
func (s *Store) ListDueAuctions(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	q := psql.Select(auctionColumns).From("auctions").
		Where(sq.Or{
			sq.And{sq.Eq{"status": string(models.AuctionPending)}, sq.LtOrEq{"start_time": now}},
			sq.And{sq.Eq{"status": string(models.AuctionActive)}, sq.LtOrEq{"end_time": now}},
			sq.And{sq.Eq{"status": string(models.AuctionClosed)}, sq.Eq{"settled": false}},
		}).
		OrderBy("CASE WHEN status = 'closed' THEN 1 ELSE 0 END", "end_time ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build due auctions: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list due auctions: %w", err)
	}
	auctions, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("scan due auctions: %w", err)
	}
	return auctions, nil
}

// CompareAndUpdate applies changes in one UPDATE guarded by the expected
// version, inserting the accepted bid in the same transaction.
func (s *Store) CompareAndUpdate(ctx context.Context, auctionID string, expectedVersion int64, changes models.AuctionChanges) (models.Auction, error) {
	q := psql.Update("auctions").
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", sq.Expr("now()"))
	if changes.Status != nil {
		q = q.Set("status", string(*changes.Status))
	}
	if changes.CurrentPrice != nil {
		q = q.Set("current_price", money(*changes.CurrentPrice))
	}
	if changes.HighBidID != nil {
		q = q.Set("high_bid_id", *changes.HighBidID)
	}
	if changes.HighBidderID != nil {
		q = q.Set("high_bidder_id", *changes.HighBidderID)
	}
	if changes.Settled != nil {
		q = q.Set("settled", *changes.Settled)
	}
	if changes.Bid != nil {
		q = q.Set("bid_count", sq.Expr("bid_count + 1"))
	}
	query, args, err := q.
		Where(sq.Eq{"id": auctionID}).
		Where(sq.Eq{"version": expectedVersion}).
		Suffix("RETURNING " + auctionColumns).
		ToSql()
	if err != nil {
		return models.Auction{}, fmt.Errorf("build update auction: %w", err)
	}

	var updated models.Auction
	err = s.runInTx(ctx, func(tx pgx.Tx) error {
		a, err := scanAuction(tx.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return s.explainMissedUpdate(ctx, tx, auctionID, expectedVersion)
		}
		if err != nil {
			return mapError(err, "auction", auctionID, biddingerrors.ErrAuctionNotFound)
		}

		if changes.Bid != nil {
			bid := *changes.Bid
			bid.AuctionID = auctionID
			bid.Sequence = a.Version
			if bid.BidTime.IsZero() {
				bid.BidTime = s.now()
			}
			if err := insertBid(ctx, tx, bid); err != nil {
				return err
			}
		}
		updated = a
		return nil
	})
	if err != nil {
		return models.Auction{}, err
	}
	return updated, nil
}

// explainMissedUpdate distinguishes a missing auction from a stale version.
func (s *Store) explainMissedUpdate(ctx context.Context, tx pgx.Tx, auctionID string, expectedVersion int64) error {
	var stored int64
	err := tx.QueryRow(ctx, "SELECT version FROM auctions WHERE id = $1", auctionID).Scan(&stored)
	if err != nil {
		return mapError(err, "auction", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return fmt.Errorf("update auction %s at version %d (stored %d): %w",
		auctionID, expectedVersion, stored, biddingerrors.ErrVersionConflict)
}

func insertBid(ctx context.Context, tx pgx.Tx, b models.Bid) error {
	query, args, err := psql.Insert("bids").
		Columns("id", "auction_id", "bidder_id", "amount", "sequence", "submitted_at", "bid_time").
		Values(b.BidID, b.AuctionID, b.BidderID, money(b.Amount), b.Sequence, b.SubmittedAt, b.BidTime).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert bid: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return mapError(err, "bid", b.BidID, biddingerrors.ErrAuctionNotFound)
	}
	return nil
}

// DeleteAuction removes an auction that never accepted a bid.
func (s *Store) DeleteAuction(ctx context.Context, auctionID string) error {
	query, args, err := psql.Delete("auctions").
		Where(sq.Eq{"id": auctionID}).
		Where(sq.Eq{"bid_count": 0}).
		Where(sq.Eq{"status": []string{string(models.AuctionPending), string(models.AuctionCancelled)}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete auction: %w", err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, "auction", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return err
	}
	return fmt.Errorf("delete auction %s: %w", auctionID, biddingerrors.ErrAuctionNotDeletable)
}

// GetBidsByAuction returns accepted bids in acceptance order.
func (s *Store) GetBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}

	query, args, err := psql.Select(bidColumns).From("bids").
		Where(sq.Eq{"auction_id": auctionID}).
		OrderBy("sequence ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bids: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// GetHighestBid returns the bid with the maximum amount.
func (s *Store) GetHighestBid(ctx context.Context, auctionID string) (models.Bid, error) {
	query, args, err := psql.Select(bidColumns).From("bids").
		Where(sq.Eq{"auction_id": auctionID}).
		OrderBy("amount DESC", "sequence ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return models.Bid{}, fmt.Errorf("build highest bid: %w", err)
	}

	b, err := scanBid(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Bid{}, mapError(err, "auction", auctionID, biddingerrors.ErrNoBids)
	}
	return b, nil
}

// GetAuctionsByBidder returns auctions the user has bid on.
func (s *Store) GetAuctionsByBidder(ctx context.Context, bidderID string) ([]models.Auction, error) {
	query, args, err := psql.Select(auctionColumns).From("auctions").
		Where(sq.Expr("id IN (SELECT auction_id FROM bids WHERE bidder_id = ?)", bidderID)).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build auctions by bidder: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auctions by bidder: %w", err)
	}
	auctions, err := collectAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("scan auctions by bidder: %w", err)
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", bidderID, biddingerrors.ErrUserNoBids)
	}
	return auctions, nil
}
