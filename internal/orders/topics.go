package orders

const (
	TopicOrderCreated  = "order.created"
	TopicStatusChanged = "order.status.changed"
	TopicOrderSettled  = "order.settled"
)

// Partition key = order_id, so every event of one order stays in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
