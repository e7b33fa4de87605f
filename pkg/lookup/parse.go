package lookup

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
)

type ordersPayload struct {
	Count   int `json:"count"`
	Results []struct {
		OrderReference string `json:"order_reference"`
		OrderDate      string `json:"order_date"`
	} `json:"results"`
}

// Accepted order_date layouts, tried in order.
var orderDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseOrders extracts the most recent order from a 2xx body. On a bad date
// the returned OrderInfo is still populated, without the date fields, along
// with an error describing the raw value. On a malformed body it returns nil.
func ParseOrders(body []byte, now time.Time) (*models.OrderInfo, error) {
	var p ordersPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%s: %v", models.MsgInvalidPayload, err)
	}

	info := &models.OrderInfo{ResultCount: p.Count}
	if len(p.Results) == 0 {
		info.OrderReference = models.MsgNoOrders
		return info, nil
	}

	first := p.Results[0]
	info.OrderReference = first.OrderReference

	placed, err := parseOrderDate(first.OrderDate)
	if err != nil {
		return info, fmt.Errorf("%w: %s", errInvalidDate, first.OrderDate)
	}

	day := time.Date(placed.Year(), placed.Month(), placed.Day(), 0, 0, 0, 0, time.UTC)
	days := int(math.Floor(now.Sub(placed).Hours() / 24))
	info.LastOrderDate = &day
	info.DaysSince = &days
	return info, nil
}

func parseOrderDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty order date")
	}
	var lastErr error
	for _, layout := range orderDateLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
