package metrics

const (
	LabelPeerType  = "peer_type"
	LabelOrderType = "order_type"
)
