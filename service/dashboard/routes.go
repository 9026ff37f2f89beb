package dashboard

import (
	"net/http"

	"github.com/consultly/consultly-server/cmd/models"
	"github.com/consultly/consultly-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type DashboardHandler struct {
	db *gorm.DB
}

func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{db: db}
}

type DashboardStats struct {
	TotalClients      int64   `json:"total_clients"`
	TotalConsultants  int64   `json:"total_consultants"`
	TotalBookings     int64   `json:"total_bookings"`
	CompletedBookings int64   `json:"completed_bookings"`
	GrossRevenue      float64 `json:"gross_revenue"`
}

func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	dashboardRouter := router.PathPrefix("/dashboard").Subrouter()
	dashboardRouter.Handle("/stats", utils.AuthMiddleware(http.HandlerFunc(h.GetDashboardStats))).Methods("GET")
}

func (h *DashboardHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}
	var caller models.User
	if err := h.db.First(&caller, userID).Error; err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "Invalid caller")
		return
	}
	if caller.Role != models.RoleAdmin {
		utils.WriteError(w, http.StatusForbidden, "Admin access required")
		return
	}

	var stats DashboardStats

	h.db.Model(&models.User{}).Where("role = ?", models.RoleClient).Count(&stats.TotalClients)
	h.db.Model(&models.Consultant{}).Count(&stats.TotalConsultants)
	h.db.Model(&models.Booking{}).Count(&stats.TotalBookings)
	h.db.Model(&models.Booking{}).Where("status = ?", models.BookingCompleted).
		Count(&stats.CompletedBookings)

	var revenue struct{ Total float64 }
	h.db.Model(&models.Booking{}).
		Select("COALESCE(SUM(total_amount), 0) AS total").
		Where("status = ?", models.BookingCompleted).
		Scan(&revenue)
	stats.GrossRevenue = revenue.Total

	utils.WriteSuccess(w, http.StatusOK, "", stats)
}
