// Package worker drains the task queues. Each queue gets a fixed pool of
// workers; a worker claims one task at a time, heartbeats while the attempt
// runs, and settles the outcome through the retry policy.
package worker
