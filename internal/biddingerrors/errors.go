package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound      = errors.New("auction not found")
	ErrNoBids               = errors.New("no bids found for auction")
	ErrUserNoBids           = errors.New("user has not placed any bids")
	ErrVersionConflict      = errors.New("auction version conflict")
	ErrWinnerNotFound       = errors.New("auction winner not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrAlreadyExists        = errors.New("record already exists")
)

// business logic errors, terminal for the request
var (
	ErrInvalidBid          = errors.New("invalid bid")
	ErrInvalidAuction      = errors.New("invalid auction")
	ErrBidTooLow           = errors.New("bid amount too low")
	ErrAuctionNotActive    = errors.New("auction not active")
	ErrSelfOutbid          = errors.New("bidder already holds the highest bid")
	ErrInvalidTransition   = errors.New("invalid auction status transition")
	ErrAuctionNotDeletable = errors.New("auction cannot be deleted")
	ErrAuctionNotClosed    = errors.New("auction not closed")
)

// ErrConcurrentBidConflict is transient: resubmitting the bid may succeed.
var ErrConcurrentBidConflict = errors.New("concurrent bid conflict")

// settlement errors
var (
	ErrCaptureRejected = errors.New("payment capture request rejected")
	ErrUnknownOutcome  = errors.New("unknown payment outcome")
)

// IsTransient reports whether err is a concurrency condition the caller may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConcurrentBidConflict)
}
