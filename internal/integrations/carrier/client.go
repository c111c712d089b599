package carrier

import (
	"context"
	"strings"

	"github.com/BearBump/FreightDesk/internal/models"
)

// Directory is the external, read-only list of carriers.
type Directory interface {
	ListCarriers(ctx context.Context) ([]models.Carrier, error)
}

// Resolve finds a carrier by id or by case-insensitive name.
func Resolve(carriers []models.Carrier, nameOrID string) (models.Carrier, bool) {
	q := strings.TrimSpace(nameOrID)
	if q == "" {
		return models.Carrier{}, false
	}
	for _, c := range carriers {
		if c.ID == q || strings.EqualFold(c.Name, q) {
			return c, true
		}
	}
	return models.Carrier{}, false
}
