// Package priority maps service and customer urgency onto the single
// integer used to order tickets.
package priority

import "github.com/citidesk/pkg/models"

const (
	Min = 1
	Max = 3
)

// ToNumber converts a priority label to its numeric weight. Unknown labels
// weigh the same as LOW.
func ToNumber(label string) int {
	switch label {
	case string(models.ServicePriorityHigh), string(models.CustomerPriorityUrgent):
		return 3
	case string(models.ServicePriorityMedium):
		return 2
	default:
		return 1
	}
}

// Final combines a service default with the customer's choice. The sum is
// clamped to [Min, Max], so HIGH+URGENT saturates at 3 rather than 6.
func Final(service models.ServicePriority, customer models.CustomerPriority) int {
	return clamp(ToNumber(string(service))+ToNumber(string(customer)), Min, Max)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
