package category

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/consultly/consultly-server/cmd/models"
	"github.com/consultly/consultly-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type CategoryHandler struct {
	db *gorm.DB
}

func NewCategoryHandler(db *gorm.DB) *CategoryHandler {
	return &CategoryHandler{db: db}
}

func (h *CategoryHandler) RegisterRoutes(router *mux.Router) {
	router.Handle("/categories", utils.AuthMiddleware(http.HandlerFunc(h.CreateCategory))).Methods("POST")
	router.HandleFunc("/categories", h.GetCategories).Methods("GET")
	router.HandleFunc("/categories/{id}", h.GetCategory).Methods("GET")
	router.Handle("/categories/{id}", utils.AuthMiddleware(http.HandlerFunc(h.UpdateCategory))).Methods("PUT")
	router.Handle("/categories/{id}", utils.AuthMiddleware(http.HandlerFunc(h.DeleteCategory))).Methods("DELETE")
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// titleCase normalizes a category name so "web development" and
// "WEB DEVELOPMENT" collide on the same stored name.
func titleCase(name string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	for i, word := range words {
		first, size := utf8.DecodeRuneInString(word)
		words[i] = string(unicode.ToUpper(first)) + word[size:]
	}
	return strings.Join(words, " ")
}

func (h *CategoryHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return false
	}
	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return false
	}
	if user.Role != models.RoleAdmin {
		utils.WriteError(w, http.StatusForbidden, "Admin access required")
		return false
	}
	return true
}

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	IsActive    *bool  `json:"is_active"`
	SortOrder   *int   `json:"sort_order"`
}

func (h *CategoryHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var fieldErrors []utils.FieldError
	if strings.TrimSpace(req.Name) == "" {
		fieldErrors = append(fieldErrors, utils.FieldError{Field: "name", Message: "name is required"})
	}
	if req.Color != "" && !hexColor.MatchString(req.Color) {
		fieldErrors = append(fieldErrors, utils.FieldError{Field: "color", Message: "must be a #RRGGBB hex color"})
	}
	if len(fieldErrors) > 0 {
		utils.WriteValidationErrors(w, fieldErrors)
		return
	}

	name := titleCase(req.Name)

	var existing models.Category
	if err := h.db.Where("LOWER(name) = LOWER(?)", name).First(&existing).Error; err == nil {
		utils.WriteError(w, http.StatusConflict, "Category name already exists")
		return
	}

	record := models.Category{
		Name:        name,
		Description: req.Description,
		Icon:        req.Icon,
		Color:       req.Color,
		IsActive:    true,
	}
	if req.IsActive != nil {
		record.IsActive = *req.IsActive
	}
	if req.SortOrder != nil {
		record.SortOrder = *req.SortOrder
	}

	if err := h.db.Create(&record).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error creating category")
		return
	}

	utils.WriteSuccess(w, http.StatusCreated, "Category created", record)
}

func (h *CategoryHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	vars := mux.Vars(r)
	categoryID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	var record models.Category
	if err := h.db.First(&record, categoryID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "Category not found")
		return
	}

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Color != "" && !hexColor.MatchString(req.Color) {
		utils.WriteValidationErrors(w, []utils.FieldError{
			{Field: "color", Message: "must be a #RRGGBB hex color"},
		})
		return
	}

	if req.Name != "" {
		name := titleCase(req.Name)
		if !strings.EqualFold(name, record.Name) {
			var existing models.Category
			if err := h.db.Where("LOWER(name) = LOWER(?) AND id != ?", name, record.ID).
				First(&existing).Error; err == nil {
				utils.WriteError(w, http.StatusConflict, "Category name already exists")
				return
			}
		}
		record.Name = name
	}
	if req.Description != "" {
		record.Description = req.Description
	}
	if req.Icon != "" {
		record.Icon = req.Icon
	}
	if req.Color != "" {
		record.Color = req.Color
	}
	if req.IsActive != nil {
		record.IsActive = *req.IsActive
	}
	if req.SortOrder != nil {
		record.SortOrder = *req.SortOrder
	}

	if err := h.db.Save(&record).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error updating category")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "Category updated", record)
}

func (h *CategoryHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	vars := mux.Vars(r)
	categoryID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	var record models.Category
	if err := h.db.First(&record, categoryID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "Category not found")
		return
	}

	if record.ConsultantCount > 0 {
		utils.WriteError(w, http.StatusConflict, "Cannot delete a category with active consultants")
		return
	}

	if err := h.db.Delete(&record).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error deleting category")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "Category deleted", nil)
}

func (h *CategoryHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	categoryID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	var record models.Category
	if err := h.db.First(&record, categoryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Category not found")
		} else {
			utils.WriteError(w, http.StatusInternalServerError, "Error retrieving category")
		}
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "", record)
}

func (h *CategoryHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	query := h.db.Model(&models.Category{})

	if active := r.URL.Query().Get("active"); active != "" {
		isActive, parseErr := strconv.ParseBool(active)
		if parseErr != nil {
			utils.WriteError(w, http.StatusBadRequest, "Invalid value for 'active'")
			return
		}
		query = query.Where("is_active = ?", isActive)
	}

	sortColumn := "sort_order"
	switch r.URL.Query().Get("sort") {
	case "", "sortOrder":
	case "name":
		sortColumn = "name"
	case "consultantCount":
		sortColumn = "consultant_count"
	default:
		utils.WriteError(w, http.StatusBadRequest, "Invalid sort field")
		return
	}
	direction := "ASC"
	if r.URL.Query().Get("order") == "desc" {
		direction = "DESC"
	}

	var categories []models.Category
	if err := query.Order(sortColumn + " " + direction).Find(&categories).Error; err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Error retrieving categories")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "", categories)
}
