package fulfillment

import (
	"sort"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// SortKey selects the ordering of query results
type SortKey string

const (
	SortRecency   SortKey = "recency"
	SortSKU       SortKey = "sku"
	SortItemCount SortKey = "item_count"
	SortShipping  SortKey = "shipping"
	SortSLA       SortKey = "sla"
)

// IsValid returns true for known sort keys and the empty default
func (k SortKey) IsValid() bool {
	switch k {
	case "", SortRecency, SortSKU, SortItemCount, SortShipping, SortSLA:
		return true
	}
	return false
}

// DateRange filters by order date. Only the calendar date of each bound is
// used, as a whole day in the store's timezone, inclusive on both ends.
// A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Filters narrows the order table
type Filters struct {
	DateRange
	// Search matches order id, marketplace order id, client, SKU and product name,
	// ignoring case and diacritics
	Search       string
	Marketplace  string
	ShippingType fulfillment.ShippingType
}

// Query selects one page of a bucket
type Query struct {
	Bucket fulfillment.Bucket
	Filters
	Sort SortKey
	Page int
}

// OrderView is an order with its derived fields
type OrderView struct {
	Order            *fulfillment.Order
	Bucket           fulfillment.Bucket
	DisplayStatus    string
	Margin           fulfillment.MarginBreakdown
	PendingMutations int
}

// PageResult is one page of query results
type PageResult struct {
	Orders     []OrderView
	TotalCount int
	Page       int
	PageSize   int
	TotalPages int
}

// IDs returns the order ids on the page
func (p PageResult) IDs() []string {
	ids := make([]string, 0, len(p.Orders))
	for _, v := range p.Orders {
		ids = append(ids, v.Order.ID)
	}
	return ids
}

// Query filters, sorts and paginates the current view. It never fails:
// an unknown bucket or page out of range yields a valid, possibly empty page.
func (s *Store) Query(q Query) PageResult {
	v := s.current.Load()
	bucket := q.Bucket
	if bucket == "" {
		bucket = fulfillment.BucketAll
	}

	match := s.newMatcher(q.Filters)
	matched := make([]*fulfillment.Order, 0, len(v.orders))
	for _, o := range v.orders {
		if fulfillment.Matches(o, bucket) && match(o) {
			matched = append(matched, o)
		}
	}

	s.sortOrders(matched, q.Sort)

	size := s.cfg.PageSize
	total := len(matched)
	pages := (total + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * size
	end := start + size
	if end > total {
		end = total
	}

	rows := make([]OrderView, 0, end-start)
	for _, o := range matched[start:end] {
		rows = append(rows, OrderView{
			Order:            o,
			Bucket:           fulfillment.Classify(o),
			DisplayStatus:    fulfillment.DisplayStatus(o),
			Margin:           fulfillment.CalculateMargin(o),
			PendingMutations: v.pending[o.ID],
		})
	}
	return PageResult{
		Orders:     rows,
		TotalCount: total,
		Page:       page,
		PageSize:   size,
		TotalPages: pages,
	}
}

// Counts returns the number of orders per bucket under the given filters.
// BucketAll holds the total and BucketUnknown the unclassified orders.
func (s *Store) Counts(f Filters) map[fulfillment.Bucket]int {
	v := s.current.Load()
	match := s.newMatcher(f)
	counts := make(map[fulfillment.Bucket]int, len(fulfillment.PipelineBuckets)+2)
	for _, b := range fulfillment.PipelineBuckets {
		counts[b] = 0
	}
	for _, o := range v.orders {
		if !match(o) {
			continue
		}
		counts[fulfillment.BucketAll]++
		counts[fulfillment.Classify(o)]++
	}
	return counts
}

func (s *Store) newMatcher(f Filters) func(*fulfillment.Order) bool {
	loc := s.cfg.Location
	var from, to time.Time
	if !f.From.IsZero() {
		from = startOfDay(f.From, loc)
	}
	if !f.To.IsZero() {
		to = startOfDay(f.To, loc).AddDate(0, 0, 1)
	}
	needle := fulfillment.Fold(f.Search)
	marketplace := fulfillment.Fold(f.Marketplace)

	return func(o *fulfillment.Order) bool {
		if !from.IsZero() && (o.CreatedAt.IsZero() || o.CreatedAt.Before(from)) {
			return false
		}
		if !to.IsZero() && (o.CreatedAt.IsZero() || !o.CreatedAt.Before(to)) {
			return false
		}
		if marketplace != "" && fulfillment.Fold(o.Marketplace) != marketplace {
			return false
		}
		if f.ShippingType != "" && o.Shipment.Type != f.ShippingType {
			return false
		}
		if needle != "" && !searchMatches(o, needle) {
			return false
		}
		return true
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func searchMatches(o *fulfillment.Order, needle string) bool {
	if strings.Contains(fulfillment.Fold(o.ID), needle) ||
		strings.Contains(fulfillment.Fold(o.MarketplaceOrderID), needle) ||
		strings.Contains(fulfillment.Fold(o.CustomerName), needle) {
		return true
	}
	for _, it := range o.Items {
		if strings.Contains(fulfillment.Fold(it.SKU), needle) || strings.Contains(fulfillment.Fold(it.Name), needle) {
			return true
		}
	}
	return false
}

// sortOrders sorts in place. The input is in stable input order and the
// sort is stable, so ties keep that order.
func (s *Store) sortOrders(orders []*fulfillment.Order, key SortKey) {
	var less func(a, b *fulfillment.Order) bool
	switch key {
	case SortSKU:
		less = func(a, b *fulfillment.Order) bool {
			sa, sb := fulfillment.Fold(a.PrimarySKU()), fulfillment.Fold(b.PrimarySKU())
			if sa == "" || sb == "" {
				return sa != "" && sb == ""
			}
			return sa < sb
		}
	case SortItemCount:
		less = func(a, b *fulfillment.Order) bool {
			return a.ItemCount().GreaterThan(b.ItemCount())
		}
	case SortShipping:
		less = func(a, b *fulfillment.Order) bool {
			return s.priority.Rank(a.Shipment.Type) < s.priority.Rank(b.Shipment.Type)
		}
	case SortSLA:
		less = func(a, b *fulfillment.Order) bool {
			ta, tb := a.Shipment.SLAExpectedAt, b.Shipment.SLAExpectedAt
			if ta == nil || tb == nil {
				return ta != nil && tb == nil
			}
			return ta.Before(*tb)
		}
	default:
		less = func(a, b *fulfillment.Order) bool {
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool { return less(orders[i], orders[j]) })
}
