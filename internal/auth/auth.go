// Package auth registers users, checks passwords and issues the tokens that
// identify a caller to the lifecycle services.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"medquote/internal/apperr"
	"medquote/internal/models"
	"medquote/internal/repository"
)

const (
	DefaultBcryptCost = 12
	minPasswordLen    = 8
)

// Claims are the JWT claims of an access token.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Config struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
	BcryptCost int
}

type Service struct {
	users      repository.UserRepository
	signingKey []byte
	issuer     string
	ttl        time.Duration
	cost       int
	now        func() time.Time
}

func New(users repository.UserRepository, cfg Config) *Service {
	s := &Service{
		users:      users,
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		ttl:        cfg.TTL,
		cost:       cfg.BcryptCost,
		now:        time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.cost == 0 {
		s.cost = DefaultBcryptCost
	}
	return s
}

type CustomerRegistration struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FullName  string   `json:"full_name"`
	Phone     string   `json:"phone"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type PharmacyRegistration struct {
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	FullName       string  `json:"full_name"`
	Phone          string  `json:"phone"`
	PharmacyName   string  `json:"pharmacy_name"`
	LicenseNumber  string  `json:"license_number"`
	Address        string  `json:"address"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	OperatingHours string  `json:"operating_hours"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateAccount(email, password, fullName string) error {
	var errs []error
	if a, err := mail.ParseAddress(email); err != nil || a.Address != email {
		errs = append(errs, apperr.Validation("invalid email %q", email))
	}
	if len(password) < minPasswordLen {
		errs = append(errs, apperr.Validation("password must be at least %d characters", minPasswordLen))
	}
	if strings.TrimSpace(fullName) == "" {
		errs = append(errs, apperr.Validation("full name is required"))
	}
	return errors.Join(errs...)
}

func (s *Service) newUser(email, password, fullName, phone string, t models.UserType) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	return models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		Phone:        strings.TrimSpace(phone),
		UserType:     t,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}, nil
}

func (s *Service) RegisterCustomer(ctx context.Context, in CustomerRegistration) (*models.Customer, error) {
	in.Email = NormalizeEmail(in.Email)
	errs := []error{validateAccount(in.Email, in.Password, in.FullName)}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		errs = append(errs, apperr.Validation("latitude and longitude go together"))
	} else if in.Latitude != nil && !models.ValidCoordinates(*in.Latitude, *in.Longitude) {
		errs = append(errs, apperr.Validation("coordinates out of range"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	u, err := s.newUser(in.Email, in.Password, in.FullName, in.Phone, models.UserTypeCustomer)
	if err != nil {
		return nil, err
	}
	c := &models.Customer{
		User:      u,
		Address:   strings.TrimSpace(in.Address),
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
	}
	if err := s.users.CreateCustomer(ctx, c); err != nil {
		return nil, fmt.Errorf("register customer: %w", err)
	}
	return c, nil
}

// RegisterPharmacy stores an unverified pharmacy. It stays invisible to
// customers until an operator verifies it.
func (s *Service) RegisterPharmacy(ctx context.Context, in PharmacyRegistration) (*models.Pharmacy, error) {
	in.Email = NormalizeEmail(in.Email)
	errs := []error{validateAccount(in.Email, in.Password, in.FullName)}
	if strings.TrimSpace(in.PharmacyName) == "" {
		errs = append(errs, apperr.Validation("pharmacy name is required"))
	}
	if strings.TrimSpace(in.LicenseNumber) == "" {
		errs = append(errs, apperr.Validation("license number is required"))
	}
	if strings.TrimSpace(in.Address) == "" {
		errs = append(errs, apperr.Validation("address is required"))
	}
	if !models.ValidCoordinates(in.Latitude, in.Longitude) {
		errs = append(errs, apperr.Validation("coordinates out of range"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	u, err := s.newUser(in.Email, in.Password, in.FullName, in.Phone, models.UserTypePharmacy)
	if err != nil {
		return nil, err
	}
	p := &models.Pharmacy{
		User:           u,
		PharmacyName:   strings.TrimSpace(in.PharmacyName),
		LicenseNumber:  strings.TrimSpace(in.LicenseNumber),
		Address:        strings.TrimSpace(in.Address),
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		OperatingHours: strings.TrimSpace(in.OperatingHours),
	}
	if err := s.users.CreatePharmacy(ctx, p); err != nil {
		return nil, fmt.Errorf("register pharmacy: %w", err)
	}
	return p, nil
}

// Login checks the password and returns a signed token. Unknown email,
// wrong password and wrong role all fail the same way.
func (s *Service) Login(ctx context.Context, email, password string, role models.UserType) (string, *models.User, error) {
	u, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.ErrInvalidCredentials
	}
	if role != "" && u.UserType != role {
		return "", nil, apperr.ErrInvalidCredentials
	}

	token, err := s.GenerateToken(u.ID, u.UserType)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

func (s *Service) GenerateToken(userID string, role models.UserType) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate turns a bearer token into the caller it was issued to.
func (s *Service) Authenticate(tokenString string) (models.Caller, error) {
	if tokenString == "" {
		return models.Caller{}, fmt.Errorf("missing token: %w", apperr.ErrUnauthenticated)
	}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return models.Caller{}, fmt.Errorf("%v: %w", err, apperr.ErrUnauthenticated)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return models.Caller{}, fmt.Errorf("invalid token: %w", apperr.ErrUnauthenticated)
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return models.Caller{}, fmt.Errorf("issuer %q: %w", claims.Issuer, apperr.ErrUnauthenticated)
	}
	role := models.UserType(claims.Role)
	if !role.Valid() {
		return models.Caller{}, fmt.Errorf("role %q: %w", claims.Role, apperr.ErrUnauthenticated)
	}
	return models.Caller{UserID: claims.UserID, Role: role}, nil
}
