// Package ingestion stores normalized reading batches.
//
// IngestBatches is all-or-nothing per call: batch rows, reading rows and the
// device's last-reading bookkeeping commit together. Only after commit are
// readings mirrored to the optional time-series store and announced to the
// Listener, so nothing downstream ever sees data that was rolled back.
//
// Batches without readings (time sync, ack-only check-ins) are skipped
// before the transaction starts.
package ingestion
