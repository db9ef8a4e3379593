package reservations

const TopicStatusChanged = "reservation.status.changed"

// Partition key = resourceRef, so subscribers of one station see its events in order.
func PartitionKey(resourceRef string) []byte { return []byte(resourceRef) }
