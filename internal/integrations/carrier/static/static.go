package static

import (
	"context"

	"github.com/BearBump/FreightDesk/internal/models"
)

// Directory serves a fixed carrier list. It backs the carriers endpoint when
// the real directory is down and stands in for it when none is configured.
type Directory struct {
	carriers []models.Carrier
}

func New(carriers ...models.Carrier) *Directory {
	if len(carriers) == 0 {
		carriers = Default()
	}
	return &Directory{carriers: carriers}
}

// Default: список перевозчиков, который показывался бэк-офису при недоступном справочнике.
func Default() []models.Carrier {
	return []models.Carrier{
		{ID: "fedex", Name: "FedEx Freight"},
		{ID: "ups", Name: "UPS Freight"},
		{ID: "xpo", Name: "XPO Logistics"},
		{ID: "old_dominion", Name: "Old Dominion"},
		{ID: "estes", Name: "Estes Express"},
	}
}

func (d *Directory) ListCarriers(ctx context.Context) ([]models.Carrier, error) {
	out := make([]models.Carrier, len(d.carriers))
	copy(out, d.carriers)
	return out, nil
}
