package types

// InventorySnapshot is a book's counters captured before a reservation.
// Releasing a reservation writes these values back.
type InventorySnapshot struct {
	AvailableQuantity int  `json:"available_quantity"`
	SoldQuantity      int  `json:"sold_quantity"`
	Sold              bool `json:"sold"`
}

// Total is the conserved quantity across reserve/release.
func (s InventorySnapshot) Total() int {
	return s.AvailableQuantity + s.SoldQuantity
}

// Reserved returns the counters after one unit is reserved from s.
func (s InventorySnapshot) Reserved() InventorySnapshot {
	return InventorySnapshot{
		AvailableQuantity: s.AvailableQuantity - 1,
		SoldQuantity:      s.SoldQuantity + 1,
		Sold:              true,
	}
}
