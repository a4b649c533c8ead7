package auth

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Ensarsahaneren/realtime/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&models.User{}, &models.RefreshToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", strings.Repeat("a", 70), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !VerifyPassword(hash, tt.password) {
				t.Error("VerifyPassword() failed for freshly hashed password")
			}
		})
	}
}

func TestVerifyPassword_WrongPassword(t *testing.T) {
	hash, err := HashPassword("correct")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if VerifyPassword(hash, "wrong") {
		t.Error("VerifyPassword() accepted wrong password")
	}
	if VerifyPassword("not-a-hash", "correct") {
		t.Error("VerifyPassword() accepted invalid hash")
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateAccessToken("user-123", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("claims.UserID = %s, want user-123", claims.UserID)
	}
}

func TestParseAccessToken_Invalid(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateAccessToken("user-123", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if _, err := ParseAccessToken(token, "other-secret"); err == nil {
		t.Error("ParseAccessToken() accepted token signed with another secret")
	}
	if _, err := ParseAccessToken("garbage", secret); err == nil {
		t.Error("ParseAccessToken() accepted garbage token")
	}

	expired, err := GenerateAccessToken("user-123", secret, -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if _, err := ParseAccessToken(expired, secret); err == nil {
		t.Error("ParseAccessToken() accepted expired token")
	}
}

func TestAuthenticate(t *testing.T) {
	db := newTestDB(t)
	secret := "test-secret"
	user := models.User{UserID: "user-123", Username: "alice", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	token, err := GenerateAccessToken("user-123", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	unknownToken, err := GenerateAccessToken("ghost", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid token", token, nil},
		{"missing token", "", ErrMissingToken},
		{"invalid token", "garbage", ErrInvalidToken},
		{"unknown user", unknownToken, ErrUnknownUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Authenticate(db, secret, tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got.UserID != "user-123" || got.Username != "alice" {
				t.Errorf("Authenticate() user = %+v", got)
			}
		})
	}
}

func TestRefreshToken_Lifecycle(t *testing.T) {
	db := newTestDB(t)

	rt, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	if len(rt) != 64 {
		t.Errorf("GenerateRefreshToken() len = %d, want 64 hex chars", len(rt))
	}

	exp := time.Now().Add(time.Hour)
	if err := SaveRefreshToken(db, "user-123", rt, exp); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	rec, err := ValidateRefreshToken(db, rt)
	if err != nil {
		t.Fatalf("ValidateRefreshToken() error = %v", err)
	}
	if rec.UserID != "user-123" {
		t.Errorf("ValidateRefreshToken() UserID = %s, want user-123", rec.UserID)
	}

	if err := RevokeRefreshToken(db, rt); err != nil {
		t.Fatalf("RevokeRefreshToken() error = %v", err)
	}
	if _, err := ValidateRefreshToken(db, rt); err == nil {
		t.Error("ValidateRefreshToken() accepted revoked token")
	}
}

func TestValidateRefreshToken_Expired(t *testing.T) {
	db := newTestDB(t)
	rt, _ := GenerateRefreshToken()
	if err := SaveRefreshToken(db, "user-123", rt, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	if _, err := ValidateRefreshToken(db, rt); err == nil {
		t.Error("ValidateRefreshToken() accepted expired token")
	}
}
