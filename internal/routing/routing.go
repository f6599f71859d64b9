// Package routing maps task kinds onto the queues that execute them. The
// table is fixed at compile time so submission can reject unknown kinds
// before anything is persisted.
package routing

import (
	"fmt"
	"sort"

	"lathe/internal/services"
)

// Queue names recognized by the worker pools.
const (
	QueueConversion  = "conversion"
	QueuePriority    = "priority"
	QueueMaintenance = "maintenance"
)

// Task kinds accepted on submission.
const (
	KindConvert = "convert"
	KindPreview = "preview"
	KindCleanup = "cleanup"
)

var kindToQueue = map[string]string{
	KindConvert: QueueConversion,
	KindPreview: QueuePriority,
	KindCleanup: QueueMaintenance,
}

// QueueFor resolves the queue that executes the given kind.
func QueueFor(kind string) (string, error) {
	queueName, ok := kindToQueue[kind]
	if !ok {
		return "", services.Wrap(
			services.ErrValidation,
			"routing",
			"resolve",
			fmt.Sprintf("unknown task kind %q (expected one of %v)", kind, Kinds()),
			nil,
		)
	}
	return queueName, nil
}

// KnownKind reports whether the kind has a queue assignment.
func KnownKind(kind string) bool {
	_, ok := kindToQueue[kind]
	return ok
}

// Kinds returns the accepted task kinds in stable order.
func Kinds() []string {
	kinds := make([]string, 0, len(kindToQueue))
	for kind := range kindToQueue {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Queues returns the distinct queue names in stable order.
func Queues() []string {
	seen := make(map[string]struct{}, len(kindToQueue))
	for _, queueName := range kindToQueue {
		seen[queueName] = struct{}{}
	}
	queues := make([]string, 0, len(seen))
	for queueName := range seen {
		queues = append(queues, queueName)
	}
	sort.Strings(queues)
	return queues
}
