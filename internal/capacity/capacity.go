// Package capacity derives seat counts from external event metadata.
package capacity

import "github.com/radkollektiv/ridesignup/internal/model"

// SeatsPerGuide is the number of riders one assigned guide can take.
const SeatsPerGuide = 7

// For returns the seat count for a ride level of an event, or nil when the
// level is unlimited. Workshops use the event's workshop capacity directly
// (nil means unlimited, so no waitlist ever forms). Ride levels get seven
// seats per assigned guide; a level with zero guides has capacity zero and
// every signup is waitlisted.
func For(level model.RideLevel, event model.EventMeta) *int {
	if level.IsWorkshop() {
		return event.WorkshopCapacity
	}
	seats := event.GuideCountsByLevel[level] * SeatsPerGuide
	return &seats
}
