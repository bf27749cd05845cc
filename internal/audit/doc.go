// Package audit is the business boundary for message auditing. It defines the
// Message model, the Store interface, the workflow state machine, validator
// batches, and the Service that ties classification, rule confirmation and
// the reclassification cascade together.
package audit
