package models

import "time"

// Result messages recorded when a lookup does not yield a usable order.
const (
	MsgNoOrders         = "No Orders Found"
	MsgInvalidDate      = "Invalid Date"
	MsgInvalidPayload   = "Invalid Payload"
	MsgAPIError         = "API Error"
	MsgRetriesExhausted = "Retries Exhausted"
	MsgRequestException = "Request Exception"
	MsgCancelled        = "cancelled"
)

// OrderInfo is the part of a lookup response we keep.
type OrderInfo struct {
	LastOrderDate  *time.Time `json:"last_order_date,omitempty" yaml:"last_order_date,omitempty"`
	DaysSince      *int       `json:"days_since,omitempty" yaml:"days_since,omitempty"`
	OrderReference string     `json:"order_reference,omitempty" yaml:"order_reference,omitempty"`
	ResultCount    int        `json:"result_count" yaml:"result_count"`
}

// Result is the outcome of looking up one key. Exactly one is produced per task.
type Result struct {
	Key        string     `json:"sku" yaml:"sku"`
	StatusCode int        `json:"status_code" yaml:"status_code"` // 0 when no response was received
	Order      *OrderInfo `json:"order,omitempty" yaml:"order,omitempty"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts   int        `json:"attempts" yaml:"attempts"`
	ObservedAt time.Time  `json:"observed_at" yaml:"observed_at"`
}

// OK reports whether the remote answered with a 2xx status.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Counters is a point-in-time copy of pipeline progress.
type Counters struct {
	Enqueued  int64 `json:"enqueued" yaml:"enqueued"`
	Processed int64 `json:"processed" yaml:"processed"`
	OK        int64 `json:"ok" yaml:"ok"`
	Err       int64 `json:"err" yaml:"err"`
}
