package ticket

import "errors"

var (
	errOutstandingExceeded = errors.New("ticket store: max outstanding bytes exceeded")
	errUnknownTicket       = errors.New("ticket store: unknown or already-evicted ticket")
	errExpired             = errors.New("ticket store: ticket expired")
)
