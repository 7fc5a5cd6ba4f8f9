package integration

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

type movementsPayload struct {
	TenantID  int64                `json:"tenant_id"`
	Operation string               `json:"operation"`
	PostedAt  time.Time            `json:"posted_at"`
	Movements []inventory.Movement `json:"movements"`
	Net       []productNet         `json:"net"`
}

type productNet struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Cost      decimal.Decimal `json:"cost"`
}

// netByProduct sums signed quantity and cost per product; a transfer nets to zero quantity.
func netByProduct(movements []inventory.Movement) []productNet {
	index := map[int64]int{}
	var out []productNet
	for _, m := range movements {
		i, ok := index[m.ProductID]
		if !ok {
			i = len(out)
			index[m.ProductID] = i
			out = append(out, productNet{ProductID: m.ProductID, Quantity: decimal.Zero, Cost: decimal.Zero})
		}
		out[i].Quantity = out[i].Quantity.Add(m.Quantity)
		out[i].Cost = out[i].Cost.Add(m.TotalCost)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ProductID < out[b].ProductID })
	return out
}
