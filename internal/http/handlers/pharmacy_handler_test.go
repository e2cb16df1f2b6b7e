package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPharmacyHandler_CreateProfile_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PharmacyHandler{}
	r.POST("/pharmacy/profiles", handler.CreateProfile)

	req, _ := http.NewRequest("POST", "/pharmacy/profiles", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPharmacyHandler_CreateProfile_BadEmail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PharmacyHandler{}
	r.POST("/pharmacy/profiles", authCtx(uuid.New(), "pharmacist"), handler.CreateProfile)

	body := `{"name":"박약사","phone":"010-1234-5678","email":"not-an-email"}`
	req, _ := http.NewRequest("POST", "/pharmacy/profiles", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPharmacyHandler_ExpressInterest_BadProfileID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PharmacyHandler{}
	r.POST("/pharmacy/interests", authCtx(uuid.New(), "pharmacist"), handler.ExpressInterest)

	req, _ := http.NewRequest("POST", "/pharmacy/interests", bytes.NewBufferString(`{"profile_id":"not-a-uuid"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPharmacyHandler_Advance_InvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PharmacyHandler{}
	r.POST("/pharmacy/matches/:id/advance", authCtx(uuid.New(), "pharmacist"), handler.Advance)

	req, _ := http.NewRequest("POST", "/pharmacy/matches/not-a-uuid/advance", bytes.NewBufferString(`{"status":"chatting"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPharmacyHandler_Cancel_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PharmacyHandler{}
	r.POST("/pharmacy/matches/:id/cancel", handler.Cancel)

	req, _ := http.NewRequest("POST", "/pharmacy/matches/"+uuid.NewString()+"/cancel", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
