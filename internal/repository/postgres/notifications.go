package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
)

const notificationColumns = "id, user_id, type, message, is_read, related_auction_id, related_bid_id, dedup_key, created_at"

func scanNotification(row pgx.Row) (models.Notification, error) {
	var (
		n   models.Notification
		typ string
	)
	err := row.Scan(&n.NotificationID, &n.UserID, &typ, &n.Message, &n.IsRead,
		&n.RelatedAuctionID, &n.RelatedBidID, &n.DedupKey, &n.CreatedAt)
	if err != nil {
		return models.Notification{}, err
	}
	n.Type = models.NotificationType(typ)
	return n, nil
}

// SaveNotification inserts a notification; a repeated dedup key is ignored.
func (s *Store) SaveNotification(ctx context.Context, n models.Notification) error {
	dedup := n.DedupKey
	if dedup == "" {
		dedup = n.NotificationID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	query, args, err := psql.Insert("notifications").
		Columns("id", "user_id", "type", "message", "is_read", "related_auction_id", "related_bid_id", "dedup_key", "created_at").
		Values(n.NotificationID, n.UserID, string(n.Type), n.Message, n.IsRead, n.RelatedAuctionID, n.RelatedBidID, dedup, n.CreatedAt).
		Suffix("ON CONFLICT (dedup_key) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert notification: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return mapError(err, "notification", n.NotificationID, biddingerrors.ErrNotificationNotFound)
	}
	return nil
}

// ListNotificationsByUser returns a user's notifications newest first.
func (s *Store) ListNotificationsByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query, args, err := psql.Select(notificationColumns).From("notifications").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(max(offset, 0))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list notifications: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags a notification as read by its recipient.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID, userID string) (models.Notification, error) {
	query, args, err := psql.Update("notifications").
		Set("is_read", true).
		Where(sq.Eq{"id": notificationID}).
		Where(sq.Eq{"user_id": userID}).
		Suffix("RETURNING " + notificationColumns).
		ToSql()
	if err != nil {
		return models.Notification{}, fmt.Errorf("build mark notification read: %w", err)
	}

	n, err := scanNotification(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Notification{}, mapError(err, "notification", notificationID, biddingerrors.ErrNotificationNotFound)
	}
	return n, nil
}
