package partner

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested partner does not exist.
var ErrNotFound = errors.New("partner not found")

// Partner is a delivery partner profile. The dispatch core only reads it,
// mainly for display names in notification text; profile management lives
// outside this service.
type Partner struct {
	ID                 string
	Name               string
	Mobile             string
	Email              string
	DrivingLicense     string
	LiquorLicense      string
	VehicleModel       string
	LicensePlate       string
	VerificationStatus string
	Rating             float64
	TotalDeliveries    int
	AcceptanceRate     float64
	CompletionRate     float64
}

// Repository defines read operations for partner profiles.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Partner, error)
}

// ErrKeyNotFound is returned when no API key matches a presented hash.
var ErrKeyNotFound = errors.New("api key not found")

// ScopeAdmin lets a key act on any partner. Keys without it are bound to
// their own PartnerID; the platform's assigner uses an admin key to push new
// orders.
const ScopeAdmin = "admin"

// APIKey identifies a caller of the dispatch API. Keys are stored as
// HMAC-SHA256 hashes, never in the clear.
type APIKey struct {
	ID        string
	PartnerID string
	KeyHash   string
	Name      string
	Scopes    []string
}

// HasScope reports whether the key carries the given scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CanActFor reports whether the key may operate on the given partner.
func (k *APIKey) CanActFor(partnerID string) bool {
	return k.PartnerID == partnerID || k.HasScope(ScopeAdmin)
}

// KeyRepository provides lookup of API keys by their HMAC hash.
type KeyRepository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}
