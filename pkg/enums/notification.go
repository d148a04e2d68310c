package enums

import "slices"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrderPlaced    NotificationType = "order_placed"
	NotificationTypeOrderShipped   NotificationType = "order_shipped"
	NotificationTypeOrderCancelled NotificationType = "order_cancelled"
	NotificationTypeOrderDeclined  NotificationType = "order_declined"
	NotificationTypeOrderDelivered NotificationType = "order_delivered"
	NotificationTypeCommitRequest  NotificationType = "commit_requested"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderPlaced,
	NotificationTypeOrderShipped,
	NotificationTypeOrderCancelled,
	NotificationTypeOrderDeclined,
	NotificationTypeOrderDelivered,
	NotificationTypeCommitRequest,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	return slices.Contains(validNotificationTypes, n)
}
