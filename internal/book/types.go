package book

// Side identifies which side of the book an order rests on.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Order is a resting or incoming limit order. Quantity is the remaining
// size; TotalQuantity never changes after creation and is kept for fill
// ratio reporting upstream.
type Order struct {
	OrderID       int64
	TraderID      string
	Side          Side
	Price         float64
	Quantity      int64
	TotalQuantity int64
	Timestamp     float64 // session-relative seconds, used for time priority
}

// key returns the (timestamp, order id) tuple used for maker/taker
// determination: the lexicographically smaller key is the older, resting
// order.
func (o *Order) key() (float64, int64) {
	return o.Timestamp, o.OrderID
}

// Less reports whether o is strictly older (and therefore the maker when
// both sides of a cross are compared) than other.
func (o *Order) Less(other *Order) bool {
	at, aid := o.key()
	bt, bid := other.key()
	if at != bt {
		return at < bt
	}
	return aid < bid
}

// PriceLevel is a FIFO queue of orders resting at one price.
type PriceLevel struct {
	Price  float64
	Orders []*Order
}

// DepthEntry is one aggregated row of a depth snapshot.
type DepthEntry struct {
	Price    float64
	Quantity int64
}

// Stats summarizes book activity for diagnostics/analytics.
type Stats struct {
	TotalOrdersAdded    int64
	TotalOrdersCanceled int64
	TotalOrdersExpired  int64
	ActiveBidLevels     int
	ActiveAskLevels     int
	TotalBidQuantity    int64
	TotalAskQuantity    int64
	BestBid             *float64
	BestAsk             *float64
	ActiveTraders       int
}
