// Package invoicing contains the Invoicing bounded context: the lifecycle of
// the fiscal document (NF-e) emitted for each order.
//
// Key concepts:
//   - Record: per-order, per-environment fiscal document state machine
//   - FocusStatus: authorization status reported by the invoicing service
//   - EmissionJob: one batch of emission requests handed to the worker pool
//   - Service: port for the external invoicing service
//   - RecordRepository: port for record persistence
package invoicing
