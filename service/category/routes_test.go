package category

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

const testSecret = "category-test-secret"

func setupTest(t *testing.T) (*gorm.DB, *mux.Router) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Category{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	router := mux.NewRouter()
	NewCategoryHandler(db).RegisterRoutes(router)
	return db, router
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

func TestTitleCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"web development", "Web Development"},
		{"WEB DEVELOPMENT", "Web Development"},
		{"  taX  adVice ", "Tax Advice"},
		{"finance", "Finance"},
		{"éducation financière", "Éducation Financière"},
		{"日本 market entry", "日本 Market Entry"},
	}
	for _, tt := range tests {
		if got := titleCase(tt.in); got != tt.want {
			t.Errorf("titleCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateCategoryNormalizesAndRejectsDuplicates(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db, router := setupTest(t)
	admin := createUser(t, db, models.RoleAdmin)

	rec := doRequest(t, router, "POST", "/categories", admin.ID, map[string]interface{}{
		"name":  "web development",
		"color": "#3366FF",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var record models.Category
	db.First(&record)
	if record.Name != "Web Development" {
		t.Errorf("stored name = %q, want Title Case", record.Name)
	}

	// Same name in different case collides.
	rec = doRequest(t, router, "POST", "/categories", admin.ID, map[string]interface{}{
		"name": "WEB DEVELOPMENT",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate name: status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateCategoryRequiresAdmin(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db, router := setupTest(t)
	client := createUser(t, db, models.RoleClient)

	rec := doRequest(t, router, "POST", "/categories", client.ID, map[string]interface{}{
		"name": "Finance",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest("POST", "/categories", bytes.NewBufferString("{}"))
	unauthRec := httptest.NewRecorder()
	router.ServeHTTP(unauthRec, req)
	if unauthRec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", unauthRec.Code)
	}
}

func TestCreateCategoryValidatesColor(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db, router := setupTest(t)
	admin := createUser(t, db, models.RoleAdmin)

	rec := doRequest(t, router, "POST", "/categories", admin.ID, map[string]interface{}{
		"name":  "Finance",
		"color": "blue",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateCategoryRenameChecksUniqueness(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db, router := setupTest(t)
	admin := createUser(t, db, models.RoleAdmin)

	finance := models.Category{Name: "Finance", IsActive: true}
	legal := models.Category{Name: "Legal", IsActive: true}
	db.Create(&finance)
	db.Create(&legal)

	rec := doRequest(t, router, "PUT", fmt.Sprintf("/categories/%d", legal.ID), admin.ID,
		map[string]interface{}{"name": "finance"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("rename onto existing: status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, "PUT", fmt.Sprintf("/categories/%d", legal.ID), admin.ID,
		map[string]interface{}{"name": "legal affairs"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var fresh models.Category
	db.First(&fresh, legal.ID)
	if fresh.Name != "Legal Affairs" {
		t.Errorf("renamed to %q, want %q", fresh.Name, "Legal Affairs")
	}
}

func TestDeleteCategoryGuardsConsultantCount(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db, router := setupTest(t)
	admin := createUser(t, db, models.RoleAdmin)

	busy := models.Category{Name: "Finance", IsActive: true, ConsultantCount: 2}
	empty := models.Category{Name: "Legal", IsActive: true}
	db.Create(&busy)
	db.Create(&empty)

	rec := doRequest(t, router, "DELETE", fmt.Sprintf("/categories/%d", busy.ID), admin.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete with consultants: status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, "DELETE", fmt.Sprintf("/categories/%d", empty.ID), admin.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete empty: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, "DELETE", "/categories/99999", admin.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing: status = %d, want 404", rec.Code)
	}
}

func TestListCategoriesFiltersAndSorts(t *testing.T) {
	t.Setenv("SECRET_KEY", testSecret)
	db, router := setupTest(t)

	db.Create(&models.Category{Name: "Finance", IsActive: true, SortOrder: 2, ConsultantCount: 5})
	db.Create(&models.Category{Name: "Legal", IsActive: true, SortOrder: 1, ConsultantCount: 9})
	db.Create(&models.Category{Name: "Archived", IsActive: false, SortOrder: 3})

	list := func(query string) []models.Category {
		t.Helper()
		rec := doRequest(t, router, "GET", "/categories"+query, 0, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("listing: status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Data []models.Category `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding list: %v", err)
		}
		return resp.Data
	}

	if got := list(""); len(got) != 3 {
		t.Errorf("unfiltered = %d, want 3", len(got))
	}

	active := list("?active=true")
	if len(active) != 2 {
		t.Fatalf("active filter = %d, want 2", len(active))
	}
	if active[0].Name != "Legal" {
		t.Errorf("default sort by sortOrder: first = %q, want Legal", active[0].Name)
	}

	byCount := list("?sort=consultantCount&order=desc")
	if byCount[0].Name != "Legal" {
		t.Errorf("sort by consultantCount desc: first = %q, want Legal", byCount[0].Name)
	}

	byName := list("?sort=name")
	if byName[0].Name != "Archived" {
		t.Errorf("sort by name asc: first = %q, want Archived", byName[0].Name)
	}

	rec := doRequest(t, router, "GET", "/categories?sort=bogus", 0, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid sort: status = %d, want 400", rec.Code)
	}
}
