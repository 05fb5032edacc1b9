package domain

import "time"

type OrderStatus int

const (
	OrderStatusUnpaid   OrderStatus = 1
	OrderStatusPaid     OrderStatus = 2
	OrderStatusUsed     OrderStatus = 3
	OrderStatusCanceled OrderStatus = 4
)

type Order struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"userId"`
	VoucherID int64       `json:"voucherId"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createTime"`
}

// StreamEntry is one admitted order as it travels through the order stream.
type StreamEntry struct {
	EntryID   string
	OrderID   int64
	UserID    int64
	VoucherID int64
}

func (e StreamEntry) Order(now time.Time) Order {
	return Order{
		ID:        e.OrderID,
		UserID:    e.UserID,
		VoucherID: e.VoucherID,
		Status:    OrderStatusUnpaid,
		CreatedAt: now,
	}
}

// AdmissionResult is the code returned by the admission script.
type AdmissionResult int

const (
	AdmissionAccepted  AdmissionResult = 0
	AdmissionSoldOut   AdmissionResult = 1
	AdmissionDuplicate AdmissionResult = 2
)
