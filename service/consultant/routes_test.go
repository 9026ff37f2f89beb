package consultant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/consultly/consultly-server/cmd/models"
)

const testSecret = "consultant-test-secret"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Consultant{},
		&models.ConsultantAvailability{},
	)
	if err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func setupRouter(db *gorm.DB) *mux.Router {
	router := mux.NewRouter()
	NewConsultantHandler(db).RegisterRoutes(router)
	return router
}

func createUser(t *testing.T, db *gorm.DB, role string) *models.User {
	t.Helper()
	user := models.User{
		FullName:     "Test " + role,
		Email:        fmt.Sprintf("%s-%d@example.com", role, time.Now().UnixNano()),
		PasswordHash: "irrelevant",
		Role:         role,
		Phone:        fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return &user
}

func createCategory(t *testing.T, db *gorm.DB, name string) *models.Category {
	t.Helper()
	record := models.Category{Name: name, IsActive: true}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("creating category: %v", err)
	}
	return &record
}

func doRequest(t *testing.T, router *mux.Router, method, path string, userID uint, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		claims := &jwt.RegisteredClaims{
			Subject:   fmt.Sprint(userID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("signing token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+signed)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateConsultantProfile(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db := setupTestDB(t)
	router := setupRouter(db)

	owner := createUser(t, db, models.RoleConsultant)
	finance := createCategory(t, db, "Finance")
	legal := createCategory(t, db, "Legal")

	rec := doRequest(t, router, "POST", "/consultants", owner.ID, map[string]interface{}{
		"bio":          "Fifteen years of cross-border tax work.",
		"experience":   15,
		"hourly_rate":  120,
		"category_ids": []uint{finance.ID, legal.ID},
		"languages":    []string{"english", "french"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var record models.Consultant
	if err := db.Preload("Categories").Where("user_id = ?", owner.ID).First(&record).Error; err != nil {
		t.Fatalf("loading profile: %v", err)
	}
	if len(record.Categories) != 2 {
		t.Errorf("linked categories = %d, want 2", len(record.Categories))
	}

	for _, cat := range []*models.Category{finance, legal} {
		var fresh models.Category
		db.First(&fresh, cat.ID)
		if fresh.ConsultantCount != 1 {
			t.Errorf("%s consultant count = %d, want 1", fresh.Name, fresh.ConsultantCount)
		}
	}

	// Exactly one profile per user.
	rec = doRequest(t, router, "POST", "/consultants", owner.ID, map[string]interface{}{
		"hourly_rate":  100,
		"category_ids": []uint{finance.ID},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second profile: status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateConsultantValidation(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db := setupTestDB(t)
	router := setupRouter(db)

	cat := createCategory(t, db, "Finance")

	client := createUser(t, db, models.RoleClient)
	rec := doRequest(t, router, "POST", "/consultants", client.ID, map[string]interface{}{
		"hourly_rate":  100,
		"category_ids": []uint{cat.ID},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("client role: status = %d, want 403", rec.Code)
	}

	owner := createUser(t, db, models.RoleConsultant)
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"no categories", map[string]interface{}{"hourly_rate": 100}},
		{"rate too low", map[string]interface{}{"hourly_rate": 5, "category_ids": []uint{cat.ID}}},
		{"rate too high", map[string]interface{}{"hourly_rate": 2000, "category_ids": []uint{cat.ID}}},
		{"experience out of range", map[string]interface{}{"hourly_rate": 100, "experience": 60, "category_ids": []uint{cat.ID}}},
		{"unsupported language", map[string]interface{}{"hourly_rate": 100, "category_ids": []uint{cat.ID}, "languages": []string{"klingon"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, "POST", "/consultants", owner.ID, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUpdateConsultantReconcilesCategories(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db := setupTestDB(t)
	router := setupRouter(db)

	owner := createUser(t, db, models.RoleConsultant)
	finance := createCategory(t, db, "Finance")
	legal := createCategory(t, db, "Legal")
	marketing := createCategory(t, db, "Marketing")

	rec := doRequest(t, router, "POST", "/consultants", owner.ID, map[string]interface{}{
		"hourly_rate":  100,
		"category_ids": []uint{finance.ID, legal.ID},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating profile: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var record models.Consultant
	db.Where("user_id = ?", owner.ID).First(&record)

	rec = doRequest(t, router, "PUT", fmt.Sprintf("/consultants/%d", record.ID), owner.ID,
		map[string]interface{}{"category_ids": []uint{legal.ID, marketing.ID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("updating profile: status = %d, body %s", rec.Code, rec.Body.String())
	}

	expect := map[string]int{"Finance": 0, "Legal": 1, "Marketing": 1}
	for _, cat := range []*models.Category{finance, legal, marketing} {
		var fresh models.Category
		db.First(&fresh, cat.ID)
		if fresh.ConsultantCount != expect[fresh.Name] {
			t.Errorf("%s consultant count = %d, want %d", fresh.Name, fresh.ConsultantCount, expect[fresh.Name])
		}
	}
}

func TestUpdateConsultantOwnership(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db := setupTestDB(t)
	router := setupRouter(db)

	owner := createUser(t, db, models.RoleConsultant)
	stranger := createUser(t, db, models.RoleConsultant)
	admin := createUser(t, db, models.RoleAdmin)
	cat := createCategory(t, db, "Finance")

	rec := doRequest(t, router, "POST", "/consultants", owner.ID, map[string]interface{}{
		"hourly_rate":  100,
		"category_ids": []uint{cat.ID},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating profile: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var record models.Consultant
	db.Where("user_id = ?", owner.ID).First(&record)
	path := fmt.Sprintf("/consultants/%d", record.ID)

	rec = doRequest(t, router, "PUT", path, stranger.ID, map[string]interface{}{"bio": "hijacked"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger update: status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, router, "PUT", path, admin.ID, map[string]interface{}{"bio": "verified advisor"})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin update: status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSetAvailabilityAndDerivedFields(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db := setupTestDB(t)
	router := setupRouter(db)

	owner := createUser(t, db, models.RoleConsultant)
	cat := createCategory(t, db, "Finance")

	rec := doRequest(t, router, "POST", "/consultants", owner.ID, map[string]interface{}{
		"hourly_rate":  100,
		"category_ids": []uint{cat.ID},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating profile: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var record models.Consultant
	db.Where("user_id = ?", owner.ID).First(&record)

	rec = doRequest(t, router, "PUT", fmt.Sprintf("/consultants/%d/availability", record.ID), owner.ID,
		map[string]interface{}{
			"availability": []map[string]interface{}{
				{"weekday": 1, "is_available": true, "start_time": "09:00", "end_time": "17:00"},
				{"weekday": 2, "is_available": true, "start_time": "09:00", "end_time": "12:00"},
			},
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("setting availability: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var windows []models.ConsultantAvailability
	db.Where("consultant_id = ?", record.ID).Find(&windows)
	if len(windows) != 2 {
		t.Fatalf("stored windows = %d, want 2", len(windows))
	}

	// Invalid windows are rejected wholesale.
	rec = doRequest(t, router, "PUT", fmt.Sprintf("/consultants/%d/availability", record.ID), owner.ID,
		map[string]interface{}{
			"availability": []map[string]interface{}{
				{"weekday": 9, "is_available": true, "start_time": "09:00", "end_time": "17:00"},
			},
		})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad weekday: status = %d, want 400", rec.Code)
	}

	db.Preload("Availabilities").First(&record, record.ID)

	// Monday 10:00 falls inside the stored window.
	monday := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	if !record.IsCurrentlyAvailableAt(monday) {
		t.Error("expected consultant available Monday 10:00")
	}
	saturday := time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC)
	if record.IsCurrentlyAvailableAt(saturday) {
		t.Error("expected consultant unavailable Saturday")
	}
}

func TestUpdateConsultantReplacesAvailability(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db := setupTestDB(t)
	router := setupRouter(db)

	owner := createUser(t, db, models.RoleConsultant)
	cat := createCategory(t, db, "Finance")

	rec := doRequest(t, router, "POST", "/consultants", owner.ID, map[string]interface{}{
		"hourly_rate":  100,
		"category_ids": []uint{cat.ID},
		"availability": []map[string]interface{}{
			{"weekday": 1, "is_available": true, "start_time": "09:00", "end_time": "17:00"},
			{"weekday": 2, "is_available": true, "start_time": "09:00", "end_time": "17:00"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating profile: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var record models.Consultant
	db.Where("user_id = ?", owner.ID).First(&record)

	// Availability patched through the profile update replaces the stored
	// windows, it is not a silent no-op.
	rec = doRequest(t, router, "PUT", fmt.Sprintf("/consultants/%d", record.ID), owner.ID,
		map[string]interface{}{
			"availability": []map[string]interface{}{
				{"weekday": 5, "is_available": true, "start_time": "13:00", "end_time": "18:00"},
			},
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("patching availability: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var windows []models.ConsultantAvailability
	db.Where("consultant_id = ?", record.ID).Find(&windows)
	if len(windows) != 1 {
		t.Fatalf("stored windows = %d, want 1", len(windows))
	}
	if windows[0].Weekday != 5 || windows[0].StartTime != "13:00" {
		t.Errorf("stored window = weekday %d %s-%s, want weekday 5 13:00-18:00",
			windows[0].Weekday, windows[0].StartTime, windows[0].EndTime)
	}

	// A patch without the field leaves the windows alone.
	rec = doRequest(t, router, "PUT", fmt.Sprintf("/consultants/%d", record.ID), owner.ID,
		map[string]interface{}{"bio": "still here"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patching bio: status = %d, body %s", rec.Code, rec.Body.String())
	}
	db.Where("consultant_id = ?", record.ID).Find(&windows)
	if len(windows) != 1 {
		t.Errorf("windows after unrelated patch = %d, want 1", len(windows))
	}
}

func TestCompletionRate(t *testing.T) {
	record := models.Consultant{}
	if got := record.CompletionRate(); got != 0 {
		t.Errorf("zero bookings: completion rate = %v, want 0", got)
	}

	record = models.Consultant{TotalBookings: 4, CompletedBookings: 3}
	if got := record.CompletionRate(); got != 75 {
		t.Errorf("completion rate = %v, want 75", got)
	}
}

func TestListConsultantsFilters(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db := setupTestDB(t)
	router := setupRouter(db)

	finance := createCategory(t, db, "Finance")
	legal := createCategory(t, db, "Legal")

	makeProfile := func(rate float64, categoryID uint) {
		t.Helper()
		owner := createUser(t, db, models.RoleConsultant)
		rec := doRequest(t, router, "POST", "/consultants", owner.ID, map[string]interface{}{
			"hourly_rate":  rate,
			"category_ids": []uint{categoryID},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("creating profile: status = %d, body %s", rec.Code, rec.Body.String())
		}
	}

	makeProfile(50, finance.ID)
	makeProfile(150, finance.ID)
	makeProfile(300, legal.ID)

	listCount := func(query string) int {
		t.Helper()
		rec := doRequest(t, router, "GET", "/consultants"+query, 0, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("listing: status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Data struct {
				Consultants []json.RawMessage `json:"consultants"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding list: %v", err)
		}
		return len(resp.Data.Consultants)
	}

	if n := listCount(""); n != 3 {
		t.Errorf("unfiltered = %d, want 3", n)
	}
	if n := listCount(fmt.Sprintf("?category=%d", finance.ID)); n != 2 {
		t.Errorf("finance filter = %d, want 2", n)
	}
	if n := listCount("?min_rate=100"); n != 2 {
		t.Errorf("min_rate filter = %d, want 2", n)
	}
	if n := listCount("?min_rate=100&max_rate=200"); n != 1 {
		t.Errorf("rate range filter = %d, want 1", n)
	}
	if n := listCount("?sort=hourlyRate&order=asc"); n != 3 {
		t.Errorf("sorted list = %d, want 3", n)
	}
}
