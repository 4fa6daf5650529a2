package models

import "errors"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusOnHold     OrderStatus = "on-hold"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusFailed     OrderStatus = "failed"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "A"
	UserRoleManager UserRole = "M"
	UserRoleViewer  UserRole = "V"
)

func ParseUserRole(s string) (UserRole, error) {
	switch UserRole(s) {
	case UserRoleAdmin, UserRoleManager, UserRoleViewer:
		return UserRole(s), nil
	}
	return "", errors.New("invalid user role")
}

// CanExportOrders is the single capability gating both export API operations.
func (r UserRole) CanExportOrders() bool {
	return r == UserRoleAdmin || r == UserRoleManager
}
