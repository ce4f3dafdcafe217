package domain

type PlanPriority int

const (
	PlanPriorityHigh PlanPriority = iota
	PlanPriorityMedium
	PlanPriorityLow
)

func (p PlanPriority) String() string {
	switch p {
	case PlanPriorityHigh:
		return "high"
	case PlanPriorityLow:
		return "low"
	default:
		return "medium"
	}
}

// ParsePlanPriority maps a wire value to a priority. Unknown values are Medium.
func ParsePlanPriority(s string) PlanPriority {
	switch s {
	case "high":
		return PlanPriorityHigh
	case "low":
		return PlanPriorityLow
	default:
		return PlanPriorityMedium
	}
}

type PlanStatus int

const (
	PlanStatusPending PlanStatus = iota
	PlanStatusInProgress
	PlanStatusCompleted
)

func (s PlanStatus) String() string {
	switch s {
	case PlanStatusInProgress:
		return "in_progress"
	case PlanStatusCompleted:
		return "completed"
	default:
		return "pending"
	}
}

// ParsePlanStatus maps a wire value to a status. Unknown values are Pending.
func ParsePlanStatus(s string) PlanStatus {
	switch s {
	case "in_progress":
		return PlanStatusInProgress
	case "completed":
		return PlanStatusCompleted
	default:
		return PlanStatusPending
	}
}

type PlanEntry struct {
	Content  string
	Priority PlanPriority
	Status   PlanStatus
}
