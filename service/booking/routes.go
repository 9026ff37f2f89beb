package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/consultly/consultly-server/cmd/models"
	"github.com/consultly/consultly-server/cmd/utils"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type BookingHandler struct {
	db *gorm.DB
}

func NewBookingHandler(db *gorm.DB) *BookingHandler {
	return &BookingHandler{db: db}
}

func (h *BookingHandler) RegisterRoutes(router *mux.Router) {
	router.Handle("/bookings", utils.AuthMiddleware(http.HandlerFunc(h.CreateBooking))).Methods("POST")
	router.Handle("/bookings", utils.AuthMiddleware(http.HandlerFunc(h.GetBookings))).Methods("GET")
	router.Handle("/bookings/{id}", utils.AuthMiddleware(http.HandlerFunc(h.GetBooking))).Methods("GET")
	router.Handle("/bookings/{id}/status", utils.AuthMiddleware(http.HandlerFunc(h.UpdateBookingStatus))).Methods("PUT")
	router.Handle("/bookings/{id}/cancel", utils.AuthMiddleware(http.HandlerFunc(h.CancelBooking))).Methods("POST")
	router.Handle("/bookings/{id}/rate", utils.AuthMiddleware(http.HandlerFunc(h.RateBooking))).Methods("POST")
}

func (h *BookingHandler) loadCaller(r *http.Request) (*models.User, error) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	caller, err := h.loadCaller(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}
	if caller.Role != models.RoleClient {
		utils.WriteError(w, http.StatusForbidden, "Only clients can create bookings")
		return
	}

	var bookingRequest struct {
		ConsultantID uint    `json:"consultant_id"`
		CategoryID   uint    `json:"category_id"`
		Date         string  `json:"date"`
		StartTime    string  `json:"start_time"`
		Duration     int     `json:"duration"`
		TotalAmount  float64 `json:"total_amount"`
		MeetingType  string  `json:"meeting_type"`
		Location     string  `json:"location"`
		ClientNotes  string  `json:"client_notes"`
	}

	if err := json.NewDecoder(r.Body).Decode(&bookingRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var fieldErrors []utils.FieldError

	date, dateErr := parseDate(bookingRequest.Date)
	if dateErr != nil {
		fieldErrors = append(fieldErrors, utils.FieldError{Field: "date", Message: "invalid date, expected YYYY-MM-DD"})
	}
	if bookingRequest.Duration < MinDuration || bookingRequest.Duration > MaxDuration {
		fieldErrors = append(fieldErrors, utils.FieldError{
			Field:   "duration",
			Message: fmt.Sprintf("duration must be between %d and %d minutes", MinDuration, MaxDuration),
		})
	}

	endTime := ""
	_, clockErr := parseClock(bookingRequest.StartTime)
	if clockErr != nil {
		fieldErrors = append(fieldErrors, utils.FieldError{Field: "start_time", Message: "invalid time, expected HH:MM"})
	} else if bookingRequest.Duration >= MinDuration && bookingRequest.Duration <= MaxDuration {
		var endErr error
		endTime, endErr = ComputeEndTime(bookingRequest.StartTime, bookingRequest.Duration)
		if endErr != nil {
			fieldErrors = append(fieldErrors, utils.FieldError{Field: "start_time", Message: endErr.Error()})
		}
	}

	if dateErr == nil && clockErr == nil {
		start := startOfSlot(date, bookingRequest.StartTime)
		if !start.After(time.Now().UTC()) {
			fieldErrors = append(fieldErrors, utils.FieldError{Field: "date", Message: "booking must be in the future"})
		}
	}

	switch bookingRequest.MeetingType {
	case "", models.MeetingVideo, models.MeetingAudio, models.MeetingInPerson:
	default:
		fieldErrors = append(fieldErrors, utils.FieldError{Field: "meeting_type", Message: "must be video, audio or in-person"})
	}

	if len(fieldErrors) > 0 {
		utils.WriteValidationErrors(w, fieldErrors)
		return
	}

	tx := h.db.Begin()

	var consultant models.Consultant
	if err := tx.First(&consultant, bookingRequest.ConsultantID).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusNotFound, "Consultant not found")
		return
	}

	var category models.Category
	if err := tx.First(&category, bookingRequest.CategoryID).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusNotFound, "Category not found")
		return
	}

	// Double-booking gate: any live booking for this consultant whose
	// [start, end) window intersects the requested one blocks creation.
	var conflicting int64
	if err := tx.Model(&models.Booking{}).
		Where("consultant_id = ? AND date = ? AND status NOT IN ?",
			consultant.ID, date, []string{models.BookingCancelled, models.BookingNoShow}).
		Where("start_time < ? AND end_time > ?", endTime, bookingRequest.StartTime).
		Count(&conflicting).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error checking availability")
		return
	}
	if conflicting > 0 {
		tx.Rollback()
		utils.WriteError(w, http.StatusConflict, "Time slot conflicts with an existing booking")
		return
	}

	totalAmount := bookingRequest.TotalAmount
	if totalAmount == 0 {
		totalAmount = ComputeAmount(consultant.HourlyRate, bookingRequest.Duration)
	}

	meetingType := bookingRequest.MeetingType
	if meetingType == "" {
		meetingType = models.MeetingVideo
	}

	newBooking := models.Booking{
		Reference:    "BKG-" + uuid.NewString(),
		ClientID:     caller.ID,
		ConsultantID: consultant.ID,
		CategoryID:   category.ID,
		Date:         date,
		StartTime:    bookingRequest.StartTime,
		EndTime:      endTime,
		Duration:     bookingRequest.Duration,
		Status:       models.BookingPending,
		TotalAmount:  totalAmount,
		MeetingType:  meetingType,
		Location:     bookingRequest.Location,
		ClientNotes:  bookingRequest.ClientNotes,
	}

	if err := tx.Create(&newBooking).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error creating booking")
		return
	}

	if err := tx.Model(&models.Consultant{}).Where("id = ?", consultant.ID).
		UpdateColumn("total_bookings", gorm.Expr("total_bookings + 1")).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error updating consultant totals")
		return
	}

	if err := tx.Model(&models.Category{}).Where("id = ?", category.ID).
		UpdateColumn("booking_count", gorm.Expr("booking_count + 1")).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error updating category totals")
		return
	}

	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error completing booking")
		return
	}

	h.db.Preload("Consultant").Preload("Category").First(&newBooking, newBooking.ID)

	utils.WriteSuccess(w, http.StatusCreated, "Booking created", newBooking)
}

func (h *BookingHandler) GetBookings(w http.ResponseWriter, r *http.Request) {
	caller, err := h.loadCaller(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := h.db.Model(&models.Booking{}).Preload("Consultant").Preload("Category")

	switch caller.Role {
	case models.RoleClient:
		query = query.Where("client_id = ?", caller.ID)
	case models.RoleConsultant:
		var consultant models.Consultant
		if err := h.db.Where("user_id = ?", caller.ID).First(&consultant).Error; err != nil {
			utils.WriteError(w, http.StatusNotFound, "Consultant profile not found")
			return
		}
		query = query.Where("consultant_id = ?", consultant.ID)
	case models.RoleAdmin:
		query = query.Preload("Client")
	default:
		utils.WriteError(w, http.StatusForbidden, "Unknown role")
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var bookings []models.Booking
	if err := query.Offset((page - 1) * limit).Limit(limit).
		Order("date DESC, start_time DESC").Find(&bookings).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error retrieving bookings")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "", map[string]interface{}{
		"bookings":    bookings,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": (total + int64(limit) - 1) / int64(limit),
	})
}

func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	caller, err := h.loadCaller(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	bookingID, err := parseID(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid booking ID")
		return
	}

	var record models.Booking
	if err := h.db.Preload("Client").Preload("Consultant").Preload("Category").
		First(&record, bookingID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "Booking not found")
		return
	}

	if !h.callerOwnsBooking(caller, &record) {
		utils.WriteError(w, http.StatusForbidden, "Not authorized to view this booking")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "", record)
}

// UpdateBookingStatus drives the booking state machine. Only the owning
// consultant or an admin may call it; illegal transitions fail before any
// write happens.
func (h *BookingHandler) UpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := h.loadCaller(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	bookingID, err := parseID(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid booking ID")
		return
	}

	var statusRequest struct {
		Status          string `json:"status"`
		ConsultantNotes string `json:"consultant_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&statusRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch statusRequest.Status {
	case models.BookingConfirmed, models.BookingCompleted,
		models.BookingCancelled, models.BookingNoShow:
	default:
		utils.WriteValidationErrors(w, []utils.FieldError{
			{Field: "status", Message: "must be confirmed, completed, cancelled or no-show"},
		})
		return
	}

	tx := h.db.Begin()

	var record models.Booking
	if err := tx.First(&record, bookingID).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusNotFound, "Booking not found")
		return
	}

	isAdmin := caller.Role == models.RoleAdmin
	if !isAdmin {
		var consultant models.Consultant
		if err := tx.Where("user_id = ?", caller.ID).First(&consultant).Error; err != nil ||
			consultant.ID != record.ConsultantID {
			tx.Rollback()
			utils.WriteError(w, http.StatusForbidden, "Not authorized to update this booking")
			return
		}
	}

	if !CanTransition(record.Status, statusRequest.Status) {
		tx.Rollback()
		utils.WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("Cannot transition booking from %s to %s", record.Status, statusRequest.Status))
		return
	}

	now := time.Now()
	record.Status = statusRequest.Status
	if statusRequest.ConsultantNotes != "" {
		record.ConsultantNotes = statusRequest.ConsultantNotes
	}

	switch statusRequest.Status {
	case models.BookingCompleted:
		record.CompletedAt = &now
	case models.BookingCancelled:
		record.CancelledAt = &now
		if isAdmin {
			record.CancelledBy = models.CancelledByAdmin
		} else {
			record.CancelledBy = models.CancelledByConsultant
		}
	}

	if err := tx.Save(&record).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error updating booking")
		return
	}

	// CanTransition already rules out re-entering completed, so this
	// increment fires exactly once per booking.
	if statusRequest.Status == models.BookingCompleted {
		if err := tx.Model(&models.Consultant{}).Where("id = ?", record.ConsultantID).
			UpdateColumn("completed_bookings", gorm.Expr("completed_bookings + 1")).Error; err != nil {
			tx.Rollback()
			utils.WriteError(w, http.StatusInternalServerError, "Error updating consultant totals")
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error completing status update")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "Booking status updated", record)
}

func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	caller, err := h.loadCaller(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	bookingID, err := parseID(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid booking ID")
		return
	}

	// The body is optional, but when present it has to parse.
	var cancelRequest struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&cancelRequest); err != nil && !errors.Is(err, io.EOF) {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(cancelRequest.Reason) > 200 {
		utils.WriteValidationErrors(w, []utils.FieldError{
			{Field: "reason", Message: "must be at most 200 characters"},
		})
		return
	}

	var record models.Booking
	if err := h.db.First(&record, bookingID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "Booking not found")
		return
	}

	if record.ClientID != caller.ID {
		utils.WriteError(w, http.StatusForbidden, "Not authorized to cancel this booking")
		return
	}

	if record.Status != models.BookingPending && record.Status != models.BookingConfirmed {
		utils.WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("Cannot cancel a booking in %s status", record.Status))
		return
	}

	now := time.Now()
	record.Status = models.BookingCancelled
	record.CancelledBy = models.CancelledByClient
	record.CancelledAt = &now
	record.CancellationReason = cancelRequest.Reason

	if err := h.db.Save(&record).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error cancelling booking")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "Booking cancelled", record)
}

func (h *BookingHandler) RateBooking(w http.ResponseWriter, r *http.Request) {
	caller, err := h.loadCaller(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	bookingID, err := parseID(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid booking ID")
		return
	}

	var rateRequest struct {
		Score  int    `json:"score"`
		Review string `json:"review"`
	}
	if err := json.NewDecoder(r.Body).Decode(&rateRequest); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if rateRequest.Score < 1 || rateRequest.Score > 5 {
		utils.WriteValidationErrors(w, []utils.FieldError{
			{Field: "score", Message: "must be between 1 and 5"},
		})
		return
	}

	tx := h.db.Begin()

	var record models.Booking
	if err := tx.First(&record, bookingID).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusNotFound, "Booking not found")
		return
	}

	if record.ClientID != caller.ID {
		tx.Rollback()
		utils.WriteError(w, http.StatusForbidden, "Not authorized to rate this booking")
		return
	}

	if record.Status != models.BookingCompleted {
		tx.Rollback()
		utils.WriteError(w, http.StatusBadRequest, "Only completed bookings can be rated")
		return
	}

	if record.Rated() {
		tx.Rollback()
		utils.WriteError(w, http.StatusConflict, "Booking has already been rated")
		return
	}

	now := time.Now()
	record.RatingScore = rateRequest.Score
	record.RatingReview = rateRequest.Review
	record.RatedAt = &now

	if err := tx.Save(&record).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error saving rating")
		return
	}

	if err := RecomputeConsultantRating(tx, record.ConsultantID); err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error updating consultant rating")
		return
	}

	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error completing rating")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "Booking rated", record)
}

func (h *BookingHandler) callerOwnsBooking(caller *models.User, record *models.Booking) bool {
	if caller.Role == models.RoleAdmin {
		return true
	}
	if record.ClientID == caller.ID {
		return true
	}
	var consultant models.Consultant
	if err := h.db.Where("user_id = ?", caller.ID).First(&consultant).Error; err == nil {
		return consultant.ID == record.ConsultantID
	}
	return false
}

func parseID(r *http.Request) (uint64, error) {
	vars := mux.Vars(r)
	return strconv.ParseUint(vars["id"], 10, 64)
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("date is required")
	}
	if date, err := time.Parse("2006-01-02", value); err == nil {
		return date.UTC(), nil
	}
	date, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC), nil
}

func startOfSlot(date time.Time, startTime string) time.Time {
	minutes, err := parseClock(startTime)
	if err != nil {
		return date
	}
	return date.Add(time.Duration(minutes) * time.Minute)
}
