// Package orchestrator ties the queue store, progress tracking, and
// notifications together. It admits batches, fans them out into routed tasks,
// and folds terminal tasks back into batch aggregates.
package orchestrator
