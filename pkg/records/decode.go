package records

import (
	"time"

	"github.com/nicktill/campuspulse/pkg/docstore"
)

// RatingFrom decodes a rating. ok is false when messName, timestamp or
// foodQualityRating is missing, or the rating is not a whole 1 to 5.
func RatingFrom(d docstore.Document) (Rating, bool) {
	r := Rating{ID: d.ID}
	var ok1, ok2, ok3 bool
	r.MessName, ok1 = d.String("messName")
	r.Timestamp, ok2 = d.Time("timestamp")
	r.Quality, ok3 = d.Number("foodQualityRating")
	if !ok1 || !ok2 || !ok3 || r.MessName == "" || !ValidQuality(r.Quality) {
		return Rating{}, false
	}
	r.StudentID, _ = d.String("studentId")
	r.MealType, _ = d.String("mealType")
	r.ImageURL, _ = d.String("imageUrl")
	sick, _ := d.String("sickAfterMealReport")
	r.Sick = sick == "yes"
	return r, true
}

// Fields encodes a rating for storage. The timestamp is set by the store.
func (r Rating) Fields() docstore.Fields {
	sick := "no"
	if r.Sick {
		sick = "yes"
	}
	f := docstore.Fields{
		"studentId":           r.StudentID,
		"messName":            r.MessName,
		"mealType":            r.MealType,
		"foodQualityRating":   r.Quality,
		"sickAfterMealReport": sick,
		"timestamp":           docstore.ServerTimestamp,
	}
	if r.ImageURL != "" {
		f["imageUrl"] = r.ImageURL
	}
	return f
}

// AppointmentFrom decodes an appointment. ok is false without an
// appointmentDate.
func AppointmentFrom(d docstore.Document) (Appointment, bool) {
	a := Appointment{ID: d.ID}
	var ok bool
	if a.AppointmentDate, ok = d.Time("appointmentDate"); !ok {
		return Appointment{}, false
	}
	a.StudentID, _ = d.String("studentId")
	a.StudentName, _ = d.String("studentName")
	a.EnrollmentNumber, _ = d.String("enrollmentNumber")
	a.AppointmentTime, _ = d.String("appointmentTime")
	a.Reason, _ = d.String("reason")
	a.Status, _ = d.String("status")
	a.BookedBy, _ = d.String("bookedBy")
	if w, ok := d.Number("waitingTime"); ok {
		a.WaitingTime = &w
	}
	a.DoctorAvailability, _ = d.String("doctorAvailability")
	a.PostVisitFeedback, _ = d.String("postVisitFeedback")
	return a, true
}

// Channel returns the booking channel. Anything but admin counts as student.
func (a Appointment) Channel() string {
	if a.BookedBy == BookedByAdmin {
		return BookedByAdmin
	}
	return BookedByStudent
}

// Fields encodes a new appointment for storage.
func (a Appointment) Fields() docstore.Fields {
	f := docstore.Fields{
		"studentId":        a.StudentID,
		"studentName":      a.StudentName,
		"enrollmentNumber": a.EnrollmentNumber,
		"appointmentDate":  a.AppointmentDate,
		"appointmentTime":  a.AppointmentTime,
		"reason":           a.Reason,
		"status":           a.Status,
	}
	if a.BookedBy != "" {
		f["bookedBy"] = a.BookedBy
	}
	return f
}

// EmergencyFrom decodes a report. ok is false without a timestamp.
func EmergencyFrom(d docstore.Document) (EmergencyReport, bool) {
	r := EmergencyReport{ID: d.ID}
	var ok bool
	if r.Timestamp, ok = d.Time("timestamp"); !ok {
		return EmergencyReport{}, false
	}
	r.StudentID, _ = d.String("studentId")
	r.StudentName, _ = d.String("studentName")
	r.EnrollmentNumber, _ = d.String("enrollmentNumber")
	r.Location, _ = d.String("location")
	r.EmergencyType, _ = d.String("emergencyType")
	if y, ok := d.Number("year"); ok {
		r.Year = int(y)
	}
	if lat, ok := d.Number("latitude"); ok {
		r.Latitude = &lat
	}
	if lon, ok := d.Number("longitude"); ok {
		r.Longitude = &lon
	}
	return r, true
}

// Fields encodes a report for storage.
func (r EmergencyReport) Fields() docstore.Fields {
	f := docstore.Fields{
		"studentId":        r.StudentID,
		"studentName":      r.StudentName,
		"enrollmentNumber": r.EnrollmentNumber,
		"location":         r.Location,
		"emergencyType":    r.EmergencyType,
		"timestamp":        docstore.ServerTimestamp,
	}
	if r.Year > 0 {
		f["year"] = r.Year
	}
	if r.Latitude != nil && r.Longitude != nil {
		f["latitude"] = *r.Latitude
		f["longitude"] = *r.Longitude
	}
	return f
}

// FeedbackFrom decodes a hospital feedback document.
func FeedbackFrom(d docstore.Document) (HospitalFeedback, bool) {
	fb := HospitalFeedback{ID: d.ID}
	var ok bool
	if fb.Timestamp, ok = d.Time("timestamp"); !ok {
		return HospitalFeedback{}, false
	}
	fb.StudentID, _ = d.String("studentId")
	fb.WaitingTime, _ = d.Number("waitingTime")
	fb.DoctorAvailability, _ = d.String("doctorAvailability")
	fb.PostVisitFeedback, _ = d.String("postVisitFeedback")
	fb.EmergencyVsNormal, _ = d.String("emergencyVsNormal")
	return fb, true
}

// Fields encodes feedback for storage.
func (fb HospitalFeedback) Fields() docstore.Fields {
	return docstore.Fields{
		"studentId":          fb.StudentID,
		"waitingTime":        fb.WaitingTime,
		"doctorAvailability": fb.DoctorAvailability,
		"postVisitFeedback":  fb.PostVisitFeedback,
		"emergencyVsNormal":  fb.EmergencyVsNormal,
		"timestamp":          docstore.ServerTimestamp,
	}
}

// NutritionLogFrom decodes a nutrition log.
func NutritionLogFrom(d docstore.Document) (NutritionLog, bool) {
	n := NutritionLog{ID: d.ID}
	var ok bool
	if n.Timestamp, ok = d.Time("timestamp"); !ok {
		return NutritionLog{}, false
	}
	n.UserID, _ = d.String("userId")
	n.Calories, _ = d.Number("calories")
	n.ProteinGrams, _ = d.Number("proteinGrams")
	n.CarbsGrams, _ = d.Number("carbsGrams")
	n.FatGrams, _ = d.Number("fatGrams")
	n.PhotoURL, _ = d.String("photoUrl")
	return n, true
}

// Fields encodes a nutrition log for storage.
func (n NutritionLog) Fields() docstore.Fields {
	f := docstore.Fields{
		"userId":       n.UserID,
		"calories":     n.Calories,
		"proteinGrams": n.ProteinGrams,
		"carbsGrams":   n.CarbsGrams,
		"fatGrams":     n.FatGrams,
		"timestamp":    docstore.ServerTimestamp,
	}
	if n.PhotoURL != "" {
		f["photoUrl"] = n.PhotoURL
	}
	return f
}

// DoctorStatusFrom decodes the hospital status, filling the alert level
// when it is unset.
func DoctorStatusFrom(d docstore.Document) DoctorStatus {
	s := DoctorStatus{}
	s.Name, _ = d.String("name")
	s.Specialty, _ = d.String("specialty")
	s.IsAvailable, _ = d.Bool("isAvailable")
	s.EmergencyStatus, _ = d.String("emergencyStatus")
	if s.EmergencyStatus == "" {
		s.EmergencyStatus = "Normal Operations"
	}
	return s
}

// Fields encodes the doctor status for a merge write.
func (s DoctorStatus) Fields() docstore.Fields {
	return docstore.Fields{
		"name":            s.Name,
		"specialty":       s.Specialty,
		"isAvailable":     s.IsAvailable,
		"emergencyStatus": s.EmergencyStatus,
	}
}

// ProfileFrom decodes a user profile.
func ProfileFrom(d docstore.Document) UserProfile {
	p := UserProfile{UID: d.ID}
	p.Email, _ = d.String("email")
	p.DisplayName, _ = d.String("displayName")
	p.PhotoURL, _ = d.String("photoURL")
	p.EnrollmentNumber, _ = d.String("enrollmentNumber")
	p.Hostel, _ = d.String("hostel")
	p.Department, _ = d.String("department")
	p.PhoneNumber, _ = d.String("phoneNumber")
	if y, ok := d.Number("year"); ok {
		p.Year = int(y)
	}
	return p
}

// ISOTime formats a timestamp the way the risk model expects.
func ISOTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
