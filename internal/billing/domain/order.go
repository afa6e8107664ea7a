package billing

// Delivered order statuses. "entregue" is the legacy synonym.
const (
	OrderStatusDelivered = "delivered"
	OrderStatusEntregue  = "entregue"
)

// IsDeliveredStatus reports whether status is one of the delivered synonyms.
func IsDeliveredStatus(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusEntregue
}

// IsDeliveryTransition reports whether an order status change moves the order
// into the delivered set from outside it. An empty oldStatus means the order had
// no previous status (created already delivered).
func IsDeliveryTransition(newStatus, oldStatus string) bool {
	if !IsDeliveredStatus(newStatus) {
		return false
	}
	return oldStatus == "" || !IsDeliveredStatus(oldStatus)
}
