package domain

import "time"

// SeckillVoucher is a voucher sold in limited quantity inside a time window.
type SeckillVoucher struct {
	VoucherID int64     `json:"voucherId"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"beginTime"`
	EndTime   time.Time `json:"endTime"`
	CreatedAt time.Time `json:"createTime"`
	UpdatedAt time.Time `json:"updateTime"`
}

func (v SeckillVoucher) NotStarted(now time.Time) bool {
	return now.Before(v.BeginTime)
}

func (v SeckillVoucher) Ended(now time.Time) bool {
	return now.After(v.EndTime)
}
