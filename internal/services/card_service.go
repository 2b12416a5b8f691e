// Package services – CardService
//
// Card numbers never persist here: registration validates the PAN, derives
// the brand and masked form, stores only the opaque token plus mask, and
// discards the number.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/repo"
)

// Card validation errors.
var (
	// ErrInvalidCard is returned when the PAN fails length or checksum checks.
	ErrInvalidCard = errors.New("invalid card number")

	// ErrCardExpired is returned when the expiry is in the past.
	ErrCardExpired = errors.New("card is expired")
)

// CardService tokenizes cards for later acquirer use.
type CardService struct {
	DB *gorm.DB
}

// Register validates pan, tokenizes it, and stores the masked reference.
func (s *CardService) Register(ctx context.Context, customerID, pan string, expiry time.Time) (*domain.CardToken, error) {
	pan = strings.ReplaceAll(strings.ReplaceAll(pan, " ", ""), "-", "")
	if len(pan) < 12 || len(pan) > 19 || !luhnValid(pan) {
		return nil, ErrInvalidCard
	}
	if expiry.Before(time.Now().UTC()) {
		return nil, ErrCardExpired
	}

	t := &domain.CardToken{
		Token:      "tok_" + uuid.NewString(),
		CustomerID: customerID,
		MaskedPAN:  maskPAN(pan),
		Brand:      cardBrand(pan),
		ExpiresAt:  expiry,
	}
	return repo.CreateCardToken(ctx, s.DB, t)
}

// Lookup resolves an opaque token to its stored reference.
func (s *CardService) Lookup(ctx context.Context, token string) (*domain.CardToken, error) {
	t, err := repo.FindCardTokenByToken(ctx, s.DB, token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardTokenNotFound
	}
	return t, err
}

// luhnValid reports whether pan passes the Luhn checksum.
func luhnValid(pan string) bool {
	sum := 0
	double := false
	for i := len(pan) - 1; i >= 0; i-- {
		c := pan[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// maskPAN keeps the last four digits.
func maskPAN(pan string) string {
	return strings.Repeat("*", len(pan)-4) + pan[len(pan)-4:]
}

// cardBrand infers the network from the leading digits.
func cardBrand(pan string) string {
	switch {
	case strings.HasPrefix(pan, "4"):
		return "VISA"
	case pan[0] == '5' && pan[1] >= '1' && pan[1] <= '5':
		return "MASTERCARD"
	case strings.HasPrefix(pan, "34") || strings.HasPrefix(pan, "37"):
		return "AMEX"
	default:
		return "UNKNOWN"
	}
}
