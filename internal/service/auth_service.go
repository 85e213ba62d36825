package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/exstem-session/internal/config"
)

// Common auth errors.
var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenType distinguishes student vs proctor tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeAdmin   TokenType = "admin"
)

// PermissionProctor allows watching an exam and acting on its students.
const PermissionProctor = "exams:proctor"

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      int       `json:"user_id"`
	Permissions []string  `json:"permissions,omitempty"` // Admin only
}

type account struct {
	id          int
	name        string
	hash        []byte
	permissions []string
}

// AuthService checks fixture credentials and issues JWTs.
type AuthService struct {
	cfg      *config.Config
	students map[string]account // by NISN
	proctors map[string]account // by email
}

// NewAuthService hashes the fixture passwords once so logins compare
// against bcrypt hashes only.
func NewAuthService(cfg *config.Config, fx *Fixture) (*AuthService, error) {
	s := &AuthService{
		cfg:      cfg,
		students: make(map[string]account, len(fx.Students)),
		proctors: make(map[string]account, len(fx.Proctors)),
	}
	for _, st := range fx.Students {
		hash, err := s.HashPassword(st.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password of student %d: %w", st.ID, err)
		}
		s.students[st.NISN] = account{id: st.ID, name: st.Name, hash: []byte(hash)}
	}
	for _, p := range fx.Proctors {
		hash, err := s.HashPassword(p.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password of proctor %d: %w", p.ID, err)
		}
		s.proctors[p.Email] = account{id: p.ID, name: p.Name, hash: []byte(hash), permissions: p.Permissions}
	}
	return s, nil
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// LoginStudent checks a student's NISN and password and returns a token.
func (s *AuthService) LoginStudent(nisn, password string) (string, int, error) {
	acc, ok := s.students[nisn]
	if !ok || bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) != nil {
		return "", 0, ErrInvalidCredentials
	}
	token, err := s.GenerateStudentToken(acc.id)
	return token, acc.id, err
}

// LoginProctor checks a proctor's email and password and returns a token.
func (s *AuthService) LoginProctor(email, password string) (string, error) {
	acc, ok := s.proctors[email]
	if !ok || bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return s.GenerateAdminToken(acc.id, acc.permissions)
}

// GenerateStudentToken creates a JWT for a student.
func (s *AuthService) GenerateStudentToken(studentID int) (string, error) {
	return s.sign(Claims{
		RegisteredClaims: s.registered(studentID),
		TokenType:        TokenTypeStudent,
		UserID:           studentID,
	})
}

// GenerateAdminToken creates a JWT for a proctor with permissions embedded.
func (s *AuthService) GenerateAdminToken(adminID int, permissions []string) (string, error) {
	return s.sign(Claims{
		RegisteredClaims: s.registered(adminID),
		TokenType:        TokenTypeAdmin,
		UserID:           adminID,
		Permissions:      permissions,
	})
}

func (s *AuthService) registered(userID int) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Subject:   strconv.Itoa(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
	}
}

func (s *AuthService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
