// Package fulfillment contains the Fulfillment bounded context.
// It owns the canonical Order that every marketplace row is normalized into,
// and the pure rules derived from it.
//
// Key concepts:
//   - Order: canonical order entity, versioned by UpdatedAt
//   - Bucket: one stage of the fulfillment pipeline, derived only from StatusInternal
//   - Margin: contribution margin computed from the order's financial block
//   - ShippingType: one enumeration for the shipping vocabularies of every marketplace
//   - LinkedProduct: resolution of marketplace items to inventory SKUs
package fulfillment
