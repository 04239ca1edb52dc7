package store

import "qline/admission-service/internal/models"

// transitionMap is the single source of truth for the entry lifecycle.
// in_progress -> serving is the one sanctioned fast path; completed and
// cancelled are sinks with no outgoing edges.
var transitionMap = map[string][]string{
	models.StatusQueued:     {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusReady, models.StatusServing, models.StatusCancelled},
	models.StatusReady:      {models.StatusServing, models.StatusCancelled},
	models.StatusServing:    {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:  {},
	models.StatusCancelled:  {},
}

func ValidTransition(from, to string) bool {
	allowed, ok := transitionMap[from]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an IllegalTransitionError naming the pair
// when the edge is not in the table.
func CheckTransition(from, to string) error {
	if !ValidTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}
