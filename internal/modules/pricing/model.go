// README: Fare rate and quote inputs for stop-based fares.
package pricing

// Rate is a flat boarding fare plus a charge for every stop travelled.
type Rate struct {
	BaseFare int64
	PerStop  int64
	Currency string
}

type Quote struct {
	// RequestType is "ride" or "pickup". Pickups have no destination and pay the base fare.
	RequestType string
	Stops       int
}
