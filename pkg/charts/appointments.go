package charts

import (
	"cmp"
	"time"

	"github.com/nicktill/campuspulse/pkg/aggregate"
	"github.com/nicktill/campuspulse/pkg/authz"
	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/filter"
	"github.com/nicktill/campuspulse/pkg/records"
	"github.com/nicktill/campuspulse/pkg/series"
)

// Booking channel labels shown on the response time chart.
const (
	StudentBookedLabel = "Student Booked"
	AdminBookedLabel   = "Admin Booked"
)

func channelLabel(a records.Appointment) string {
	if a.Channel() == records.BookedByAdmin {
		return AdminBookedLabel
	}
	return StudentBookedLabel
}

// ResponseTime charts the daily average waiting time of completed
// appointments per booking channel, in whole minutes. The filter category
// may name one channel ("student" or "admin").
func ResponseTime(loc *time.Location) *SeriesChart[records.Appointment] {
	return &SeriesChart[records.Appointment]{
		name: ResponseTimeName,
		gate: authz.GateAdmin,
		query: func(filter.Filter) docstore.Query {
			return docstore.Query{
				Collection: records.AppointmentsCollection,
				Where:      []docstore.Predicate{docstore.Where("status", docstore.Eq, records.StatusCompleted)},
			}
		},
		decode: records.AppointmentFrom,
		keep: func(f filter.Filter, a records.Appointment) bool {
			return f.All() || a.Channel() == f.Category
		},
		key: func(a records.Appointment) (aggregate.Key, bool) {
			return aggregate.Key{Day: aggregate.DayOf(a.AppointmentDate, loc), Category: channelLabel(a)}, true
		},
		value: func(a records.Appointment) (float64, bool) {
			if a.WaitingTime == nil || *a.WaitingTime < 0 {
				return 0, false
			}
			return *a.WaitingTime, true
		},
		round: aggregate.RoundWhole,
		order: series.Canonical(StudentBookedLabel, AdminBookedLabel),
	}
}

// DayAppointments lists the appointments on the selected date in time
// order. A zero date selects today.
func DayAppointments(loc *time.Location) *ListChart[records.Appointment] {
	return &ListChart[records.Appointment]{
		name: DayAppointmentsName,
		gate: authz.GateAdmin,
		query: func(f filter.Filter) docstore.Query {
			day := f.Date
			if day.IsZero() {
				day = aggregate.DayOf(time.Now(), loc)
			}
			return docstore.Query{
				Collection: records.AppointmentsCollection,
				Where: []docstore.Predicate{
					docstore.Where("appointmentDate", docstore.Gte, day.Start(loc)),
					docstore.Where("appointmentDate", docstore.Lte, day.End(loc)),
				},
				OrderBy: "appointmentDate",
			}
		},
		decode: records.AppointmentFrom,
		less: func(a, b records.Appointment) int {
			if c := a.AppointmentDate.Compare(b.AppointmentDate); c != 0 {
				return c
			}
			return cmp.Compare(a.AppointmentTime, b.AppointmentTime)
		},
	}
}

// MyAppointments lists the viewer's own appointments, latest date first.
func MyAppointments() *ListChart[records.Appointment] {
	return &ListChart[records.Appointment]{
		name: MyAppointmentsName,
		gate: authz.GateSignedIn,
		query: func(f filter.Filter) docstore.Query {
			return docstore.Query{
				Collection: records.AppointmentsCollection,
				Where:      []docstore.Predicate{docstore.Where("studentId", docstore.Eq, f.Viewer)},
				OrderBy:    "appointmentDate",
				Desc:       true,
			}
		},
		decode: records.AppointmentFrom,
		less: func(a, b records.Appointment) int {
			if c := b.AppointmentDate.Compare(a.AppointmentDate); c != 0 {
				return c
			}
			return cmp.Compare(b.AppointmentTime, a.AppointmentTime)
		},
	}
}
