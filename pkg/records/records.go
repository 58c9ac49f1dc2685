// Package records defines the typed campus records stored in docstore and
// lenient decoders that skip incomplete documents.
package records

import "time"

// Collection names.
const (
	RatingsCollection      = "messFoodRatings"
	AppointmentsCollection = "appointments"
	EmergencyCollection    = "emergencyReports"
	FeedbackCollection     = "hospitalFeedbacks"
	AdminRolesCollection   = "roles_admin"
	CampusInfoCollection   = "campusInfo"
	UserProfileCollection  = "userProfile"

	HospitalDocID = "hospital"
)

// NutritionLogsCollection is the per-user nutrition log collection.
func NutritionLogsCollection(uid string) string {
	return UserProfileCollection + "/" + uid + "/nutritionLogs"
}

// Meals in serving order.
var Meals = []string{"Breakfast", "Lunch", "Dinner", "Snacks"}

// Messes on campus. Ratings may name others; charts do not depend on this list.
var Messes = []string{"Gargi hostel mess", "Southern mess", "Northern mess", "Veg mess", "Rnt mess", "Eastern mess"}

// EmergencyTypes offered by the SOS screen.
var EmergencyTypes = []string{"Medical", "Safety", "Fire", "Hostel Issue"}

// EmergencyStatuses the hospital can broadcast.
var EmergencyStatuses = []string{"Normal Operations", "Priority Open", "High Alert", "Information Only"}

// Appointment statuses.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Booking channels.
const (
	BookedByStudent = "student"
	BookedByAdmin   = "admin"
)

// Rating is one mess food rating.
type Rating struct {
	ID        string    `json:"id,omitempty"`
	StudentID string    `json:"studentId" validate:"required"`
	MessName  string    `json:"messName" validate:"required"`
	MealType  string    `json:"mealType" validate:"required,oneof=Breakfast Lunch Dinner Snacks"`
	Quality   float64   `json:"foodQualityRating" validate:"whole,gte=1,lte=5"`
	Sick      bool      `json:"sickAfterMealReport"`
	ImageURL  string    `json:"imageUrl,omitempty" validate:"omitempty,url"`
	Timestamp time.Time `json:"timestamp"`
}

// Appointment is one hospital booking plus optional post-visit feedback.
type Appointment struct {
	ID                 string    `json:"id,omitempty"`
	StudentID          string    `json:"studentId" validate:"required"`
	StudentName        string    `json:"studentName" validate:"required,max=120"`
	EnrollmentNumber   string    `json:"enrollmentNumber" validate:"required,max=40"`
	AppointmentDate    time.Time `json:"appointmentDate" validate:"required"`
	AppointmentTime    string    `json:"appointmentTime" validate:"required"`
	Reason             string    `json:"reason" validate:"required,max=500"`
	Status             string    `json:"status" validate:"oneof=scheduled completed cancelled"`
	BookedBy           string    `json:"bookedBy,omitempty" validate:"omitempty,oneof=student admin"`
	WaitingTime        *float64  `json:"waitingTime,omitempty" validate:"omitempty,gte=0"`
	DoctorAvailability string    `json:"doctorAvailability,omitempty" validate:"omitempty,oneof=available unavailable"`
	PostVisitFeedback  string    `json:"postVisitFeedback,omitempty" validate:"max=2000"`
}

// EmergencyReport is one SOS report.
type EmergencyReport struct {
	ID               string    `json:"id,omitempty"`
	StudentID        string    `json:"studentId" validate:"required"`
	StudentName      string    `json:"studentName"`
	EnrollmentNumber string    `json:"enrollmentNumber"`
	Year             int       `json:"year,omitempty" validate:"gte=0,lte=10"`
	Location         string    `json:"location" validate:"required"`
	EmergencyType    string    `json:"emergencyType" validate:"required"`
	Latitude         *float64  `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude        *float64  `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Timestamp        time.Time `json:"timestamp"`
}

// HospitalFeedback is a standalone hospital visit review.
type HospitalFeedback struct {
	ID                 string    `json:"id,omitempty"`
	StudentID          string    `json:"studentId"`
	WaitingTime        float64   `json:"waitingTime" validate:"gte=0"`
	DoctorAvailability string    `json:"doctorAvailability" validate:"oneof=available unavailable"`
	PostVisitFeedback  string    `json:"postVisitFeedback"`
	EmergencyVsNormal  string    `json:"emergencyVsNormal" validate:"oneof=emergency normal"`
	Timestamp          time.Time `json:"timestamp"`
}

// NutritionLog is one analysed meal photo.
type NutritionLog struct {
	ID           string    `json:"id,omitempty"`
	UserID       string    `json:"userId" validate:"required"`
	Calories     float64   `json:"calories" validate:"gte=0"`
	ProteinGrams float64   `json:"proteinGrams" validate:"gte=0"`
	CarbsGrams   float64   `json:"carbsGrams" validate:"gte=0"`
	FatGrams     float64   `json:"fatGrams" validate:"gte=0"`
	PhotoURL     string    `json:"photoUrl,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DoctorStatus is the hospital's on-duty doctor and alert level.
type DoctorStatus struct {
	Name            string `json:"name" validate:"required,min=2,max=120"`
	Specialty       string `json:"specialty" validate:"required,max=120"`
	IsAvailable     bool   `json:"isAvailable"`
	EmergencyStatus string `json:"emergencyStatus,omitempty" validate:"omitempty,oneof='Normal Operations' 'Priority Open' 'High Alert' 'Information Only'"`
}

// DefaultDoctorStatus is shown before an admin sets one.
func DefaultDoctorStatus() DoctorStatus {
	return DoctorStatus{
		Name:            "Dr. A. K. Singh",
		Specialty:       "General Physician",
		IsAvailable:     true,
		EmergencyStatus: "Normal Operations",
	}
}

// UserProfile is the student profile document.
type UserProfile struct {
	UID              string `json:"uid"`
	Email            string `json:"email,omitempty"`
	DisplayName      string `json:"displayName,omitempty"`
	PhotoURL         string `json:"photoURL,omitempty"`
	EnrollmentNumber string `json:"enrollmentNumber,omitempty"`
	Hostel           string `json:"hostel,omitempty"`
	Department       string `json:"department,omitempty"`
	Year             int    `json:"year,omitempty"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
}
