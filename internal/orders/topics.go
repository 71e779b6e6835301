package orders

const (
	TopicNewOrder            = "order.queue.new_order"
	TopicPayment             = "order.queue.payment"
	TopicFulfillment         = "order.queue.fulfillment"
	TopicNotification        = "order.queue.notification"
	TopicVerification        = "order.queue.verification"
	TopicVerificationOutcome = "order.verification.outcome"
)

var categoryTopics = map[QueueCategory]string{
	QueueNewOrder:     TopicNewOrder,
	QueuePayment:      TopicPayment,
	QueueFulfillment:  TopicFulfillment,
	QueueNotification: TopicNotification,
	QueueVerification: TopicVerification,
}

func TopicFor(c QueueCategory) string { return categoryTopics[c] }

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
