package schedule

import "time"

// Resolve computes, per student, the earliest trip of each type scheduled at
// or after now. Trips with equal times keep input order, so the first one seen
// wins. Trips for students not in the list are ignored. Inputs are not
// modified and the returned views hold copies of the selected trips.
func Resolve(students []Student, trips []Trip, now time.Time) map[string]StudentView {
	views := make(map[string]StudentView, len(students))
	for _, s := range students {
		if _, ok := views[s.ID]; ok {
			continue
		}
		views[s.ID] = StudentView{Student: s}
	}

	for i := range trips {
		trip := trips[i]
		view, ok := views[trip.StudentID]
		if !ok || !trip.Type.IsValid() || !trip.IsUpcoming(now) {
			continue
		}

		current := view.Next(trip.Type)
		if current != nil && !trip.ScheduledAt.Before(current.ScheduledAt) {
			continue
		}

		selected := trip
		if trip.Type == TripPickup {
			view.NextPickup = &selected
		} else {
			view.NextDropoff = &selected
		}
		views[trip.StudentID] = view
	}

	return views
}

// Window returns the [start, end] range a fetch made at now should cover.
func Window(now time.Time, length time.Duration) (time.Time, time.Time) {
	if length <= 0 {
		length = DefaultWindow
	}
	return now, now.Add(length)
}
