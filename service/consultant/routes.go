package consultant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/consultly/consultly-server/cmd/models"
	"github.com/consultly/consultly-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type ConsultantHandler struct {
	db *gorm.DB
}

func NewConsultantHandler(db *gorm.DB) *ConsultantHandler {
	return &ConsultantHandler{db: db}
}

func (h *ConsultantHandler) RegisterRoutes(router *mux.Router) {
	router.Handle("/consultants", utils.AuthMiddleware(http.HandlerFunc(h.CreateConsultant))).Methods("POST")
	router.HandleFunc("/consultants", h.GetConsultants).Methods("GET")
	router.Handle("/consultants/me", utils.AuthMiddleware(http.HandlerFunc(h.GetOwnProfile))).Methods("GET")
	router.HandleFunc("/consultants/{id}", h.GetConsultant).Methods("GET")
	router.Handle("/consultants/{id}", utils.AuthMiddleware(http.HandlerFunc(h.UpdateConsultant))).Methods("PUT")
	router.Handle("/consultants/{id}/availability", utils.AuthMiddleware(http.HandlerFunc(h.SetAvailability))).Methods("PUT")
}

type availabilityWindow struct {
	Weekday     int    `json:"weekday"`
	IsAvailable bool   `json:"is_available"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

type profileRequest struct {
	Bio             *string              `json:"bio"`
	Experience      *int                 `json:"experience"`
	HourlyRate      *float64             `json:"hourly_rate"`
	CategoryIDs     []uint               `json:"category_ids"`
	Qualifications  []string             `json:"qualifications"`
	Certifications  []string             `json:"certifications"`
	Languages       []string             `json:"languages"`
	Specializations []string             `json:"specializations"`
	Achievements    []string             `json:"achievements"`
	Availability    []availabilityWindow `json:"availability"`
}

func (req *profileRequest) validate(requireCategories bool) []utils.FieldError {
	var fieldErrors []utils.FieldError

	if req.Experience != nil && (*req.Experience < 0 || *req.Experience > 50) {
		fieldErrors = append(fieldErrors, utils.FieldError{Field: "experience", Message: "must be between 0 and 50 years"})
	}
	if req.HourlyRate != nil && (*req.HourlyRate < 10 || *req.HourlyRate > 1000) {
		fieldErrors = append(fieldErrors, utils.FieldError{Field: "hourly_rate", Message: "must be between 10 and 1000"})
	}
	if requireCategories && len(req.CategoryIDs) == 0 {
		fieldErrors = append(fieldErrors, utils.FieldError{Field: "category_ids", Message: "at least one category is required"})
	}
	for _, lang := range req.Languages {
		if !supportedLanguage(lang) {
			fieldErrors = append(fieldErrors, utils.FieldError{
				Field:   "languages",
				Message: fmt.Sprintf("unsupported language %q", lang),
			})
		}
	}
	fieldErrors = append(fieldErrors, validateWindows(req.Availability)...)

	return fieldErrors
}

func supportedLanguage(lang string) bool {
	for _, supported := range models.SupportedLanguages {
		if lang == supported {
			return true
		}
	}
	return false
}

func validateWindows(windows []availabilityWindow) []utils.FieldError {
	var fieldErrors []utils.FieldError
	for _, window := range windows {
		if window.Weekday < 0 || window.Weekday > 6 {
			fieldErrors = append(fieldErrors, utils.FieldError{Field: "availability", Message: "weekday must be between 0 (Sunday) and 6 (Saturday)"})
			continue
		}
		if !window.IsAvailable {
			continue
		}
		start, err1 := time.Parse("15:04", window.StartTime)
		end, err2 := time.Parse("15:04", window.EndTime)
		if err1 != nil || err2 != nil {
			fieldErrors = append(fieldErrors, utils.FieldError{Field: "availability", Message: "times must be HH:MM"})
			continue
		}
		if !end.After(start) {
			fieldErrors = append(fieldErrors, utils.FieldError{Field: "availability", Message: "end time must be after start time"})
		}
	}
	return fieldErrors
}

func (h *ConsultantHandler) CreateConsultant(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}
	if user.Role != models.RoleConsultant {
		utils.WriteError(w, http.StatusForbidden, "Only consultant accounts can create a profile")
		return
	}

	var existing models.Consultant
	if err := h.db.Where("user_id = ?", userID).First(&existing).Error; err == nil {
		utils.WriteError(w, http.StatusConflict, "Consultant profile already exists")
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if fieldErrors := req.validate(true); len(fieldErrors) > 0 {
		utils.WriteValidationErrors(w, fieldErrors)
		return
	}
	if req.HourlyRate == nil {
		utils.WriteValidationErrors(w, []utils.FieldError{{Field: "hourly_rate", Message: "hourly rate is required"}})
		return
	}

	var categories []models.Category
	if err := h.db.Find(&categories, req.CategoryIDs).Error; err != nil ||
		len(categories) != len(req.CategoryIDs) {
		utils.WriteError(w, http.StatusNotFound, "One or more categories not found")
		return
	}

	record := models.Consultant{
		UserID:          userID,
		HourlyRate:      *req.HourlyRate,
		Qualifications:  req.Qualifications,
		Certifications:  req.Certifications,
		Languages:       req.Languages,
		Specializations: req.Specializations,
		Achievements:    req.Achievements,
		IsActive:        true,
	}
	if req.Bio != nil {
		record.Bio = *req.Bio
	}
	if req.Experience != nil {
		record.Experience = *req.Experience
	}

	tx := h.db.Begin()

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error creating consultant profile")
		return
	}

	if err := tx.Model(&record).Association("Categories").Replace(categories); err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error linking categories")
		return
	}

	if err := ApplyCategoryDelta(tx, nil, req.CategoryIDs); err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error updating category counts")
		return
	}

	for _, window := range req.Availability {
		slot := models.ConsultantAvailability{
			ConsultantID: record.ID,
			Weekday:      window.Weekday,
			IsAvailable:  window.IsAvailable,
			StartTime:    window.StartTime,
			EndTime:      window.EndTime,
		}
		if err := tx.Create(&slot).Error; err != nil {
			tx.Rollback()
			utils.WriteError(w, http.StatusInternalServerError, "Error saving availability")
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error completing profile creation")
		return
	}

	h.db.Preload("Categories").Preload("Availabilities").First(&record, record.ID)

	utils.WriteSuccess(w, http.StatusCreated, "Consultant profile created", record)
}

func (h *ConsultantHandler) UpdateConsultant(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid consultant ID")
		return
	}

	var caller models.User
	if err := h.db.First(&caller, userID).Error; err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	var record models.Consultant
	if err := h.db.Preload("Categories").First(&record, consultantID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "Consultant not found")
		return
	}

	if caller.Role != models.RoleAdmin && record.UserID != caller.ID {
		utils.WriteError(w, http.StatusForbidden, "Not authorized to update this profile")
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if fieldErrors := req.validate(false); len(fieldErrors) > 0 {
		utils.WriteValidationErrors(w, fieldErrors)
		return
	}

	if req.Bio != nil {
		record.Bio = *req.Bio
	}
	if req.Experience != nil {
		record.Experience = *req.Experience
	}
	if req.HourlyRate != nil {
		record.HourlyRate = *req.HourlyRate
	}
	if req.Qualifications != nil {
		record.Qualifications = req.Qualifications
	}
	if req.Certifications != nil {
		record.Certifications = req.Certifications
	}
	if req.Languages != nil {
		record.Languages = req.Languages
	}
	if req.Specializations != nil {
		record.Specializations = req.Specializations
	}
	if req.Achievements != nil {
		record.Achievements = req.Achievements
	}

	tx := h.db.Begin()

	if err := tx.Save(&record).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error updating consultant")
		return
	}

	// Category changes reconcile counters against the set loaded above,
	// inside the same transaction as the profile write.
	if req.CategoryIDs != nil {
		if len(req.CategoryIDs) == 0 {
			tx.Rollback()
			utils.WriteValidationErrors(w, []utils.FieldError{
				{Field: "category_ids", Message: "at least one category is required"},
			})
			return
		}

		var categories []models.Category
		if err := tx.Find(&categories, req.CategoryIDs).Error; err != nil ||
			len(categories) != len(req.CategoryIDs) {
			tx.Rollback()
			utils.WriteError(w, http.StatusNotFound, "One or more categories not found")
			return
		}

		oldIDs := categoryIDs(record.Categories)

		if err := tx.Model(&record).Association("Categories").Replace(categories); err != nil {
			tx.Rollback()
			utils.WriteError(w, http.StatusInternalServerError, "Error updating categories")
			return
		}

		if err := ApplyCategoryDelta(tx, oldIDs, req.CategoryIDs); err != nil {
			tx.Rollback()
			utils.WriteError(w, http.StatusInternalServerError, "Error updating category counts")
			return
		}
	}

	// A patched availability set replaces the stored windows wholesale,
	// same as PUT /consultants/{id}/availability.
	if req.Availability != nil {
		if err := tx.Where("consultant_id = ?", record.ID).
			Delete(&models.ConsultantAvailability{}).Error; err != nil {
			tx.Rollback()
			utils.WriteError(w, http.StatusInternalServerError, "Error clearing availability")
			return
		}
		for _, window := range req.Availability {
			slot := models.ConsultantAvailability{
				ConsultantID: record.ID,
				Weekday:      window.Weekday,
				IsAvailable:  window.IsAvailable,
				StartTime:    window.StartTime,
				EndTime:      window.EndTime,
			}
			if err := tx.Create(&slot).Error; err != nil {
				tx.Rollback()
				utils.WriteError(w, http.StatusInternalServerError, "Error saving availability")
				return
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error completing update")
		return
	}

	h.db.Preload("Categories").Preload("Availabilities").First(&record, record.ID)

	utils.WriteSuccess(w, http.StatusOK, "Consultant updated", record)
}

func (h *ConsultantHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid consultant ID")
		return
	}

	var caller models.User
	if err := h.db.First(&caller, userID).Error; err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	var record models.Consultant
	if err := h.db.First(&record, consultantID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "Consultant not found")
		return
	}

	if caller.Role != models.RoleAdmin && record.UserID != caller.ID {
		utils.WriteError(w, http.StatusForbidden, "Not authorized to update this profile")
		return
	}

	var req struct {
		Availability []availabilityWindow `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if fieldErrors := validateWindows(req.Availability); len(fieldErrors) > 0 {
		utils.WriteValidationErrors(w, fieldErrors)
		return
	}

	tx := h.db.Begin()

	if err := tx.Where("consultant_id = ?", record.ID).
		Delete(&models.ConsultantAvailability{}).Error; err != nil {
		tx.Rollback()
		utils.WriteError(w, http.StatusInternalServerError, "Error clearing availability")
		return
	}

	for _, window := range req.Availability {
		slot := models.ConsultantAvailability{
			ConsultantID: record.ID,
			Weekday:      window.Weekday,
			IsAvailable:  window.IsAvailable,
			StartTime:    window.StartTime,
			EndTime:      window.EndTime,
		}
		if err := tx.Create(&slot).Error; err != nil {
			tx.Rollback()
			utils.WriteError(w, http.StatusInternalServerError, "Error saving availability")
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error completing availability update")
		return
	}

	h.db.Preload("Availabilities").First(&record, record.ID)

	utils.WriteSuccess(w, http.StatusOK, "Availability updated", record)
}

func (h *ConsultantHandler) GetOwnProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}

	var record models.Consultant
	err = h.db.Preload("User").Preload("Categories").Preload("Availabilities").
		Where("user_id = ?", userID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Consultant profile not found")
		} else {
			utils.WriteError(w, http.StatusInternalServerError, "Error retrieving profile")
		}
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "", consultantResponse(&record))
}

func (h *ConsultantHandler) GetConsultant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid consultant ID")
		return
	}

	var record models.Consultant
	err = h.db.Preload("User").Preload("Categories").Preload("Availabilities").
		First(&record, consultantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Consultant not found")
		} else {
			utils.WriteError(w, http.StatusInternalServerError, "Error retrieving consultant")
		}
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "", consultantResponse(&record))
}

func (h *ConsultantHandler) GetConsultants(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := h.db.Model(&models.Consultant{}).
		Preload("User").Preload("Categories").Preload("Availabilities")

	if categoryID := r.URL.Query().Get("category"); categoryID != "" {
		query = query.
			Joins("JOIN consultant_categories cc ON cc.consultant_id = consultants.id").
			Where("cc.category_id = ?", categoryID)
	}
	if minRate := r.URL.Query().Get("min_rate"); minRate != "" {
		query = query.Where("hourly_rate >= ?", minRate)
	}
	if maxRate := r.URL.Query().Get("max_rate"); maxRate != "" {
		query = query.Where("hourly_rate <= ?", maxRate)
	}
	if active := r.URL.Query().Get("active"); active != "" {
		isActive, parseErr := strconv.ParseBool(active)
		if parseErr != nil {
			utils.WriteError(w, http.StatusBadRequest, "Invalid value for 'active'")
			return
		}
		query = query.Where("is_active = ?", isActive)
	}

	sortColumn := "rating_average"
	switch r.URL.Query().Get("sort") {
	case "", "rating":
	case "hourlyRate":
		sortColumn = "hourly_rate"
	case "experience":
		sortColumn = "experience"
	default:
		utils.WriteError(w, http.StatusBadRequest, "Invalid sort field")
		return
	}
	direction := "DESC"
	if r.URL.Query().Get("order") == "asc" {
		direction = "ASC"
	}

	var total int64
	query.Count(&total)

	var consultants []models.Consultant
	err := query.Offset((page - 1) * limit).Limit(limit).
		Order(sortColumn + " " + direction).Find(&consultants).Error
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error retrieving consultants")
		return
	}

	results := make([]map[string]interface{}, 0, len(consultants))
	for i := range consultants {
		results = append(results, consultantResponse(&consultants[i]))
	}

	utils.WriteSuccess(w, http.StatusOK, "", map[string]interface{}{
		"consultants": results,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": (total + int64(limit) - 1) / int64(limit),
	})
}

// consultantResponse augments the stored row with its derived attributes.
func consultantResponse(record *models.Consultant) map[string]interface{} {
	return map[string]interface{}{
		"consultant":             record,
		"completion_rate":        record.CompletionRate(),
		"is_currently_available": record.IsCurrentlyAvailableAt(time.Now()),
	}
}
