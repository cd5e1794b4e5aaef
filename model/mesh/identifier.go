package mesh

// PeerID identifies a peer within a single simulation run. IDs are sequence
// numbers handed out by the run driver, starting at 1; the zero value means
// "no peer" and is used, for example, as the previous owner of an externally
// injected order.
type PeerID uint64

// OrderID identifies an order within a single simulation run. As with PeerID,
// IDs start at 1 and the zero value is reserved.
type OrderID uint64

// PeerIDNone is the reserved "no peer" identifier.
const PeerIDNone PeerID = 0

// PeerType partitions peers by behavior. The set of types is closed: the
// scenario's type-ratio tables are keyed by these values and the driver
// rejects unknown ones at setup time.
type PeerType string

const (
	// PeerTypeNormal peers create, store and share orders.
	PeerTypeNormal PeerType = "normal"
	// PeerTypeFreeRider peers consume shared orders but never share their
	// own, and never create orders.
	PeerTypeFreeRider PeerType = "free_rider"
)

// OrderType labels an order's category (e.g. a trading-pair group). The
// reference scenario only uses a single type.
type OrderType string

// OrderTypeDefault is the only order type in the reference scenario.
const OrderTypeDefault OrderType = "default"

// Preference is a peer's attitude towards a neighbor. It is assigned by the
// engine's preference policy; nil means no preference has been set.
type Preference *int

// Priority is a policy-assigned priority of an orderinfo; nil means unset.
type Priority *int
