package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Line is one product selected for purchase. Name, Price and Image are
// captured when the product is first added and are never re-synced with the
// catalog.
type Line struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity int
	Image    string
	// Attributes carries opaque catalog data (category, tags) through to the
	// checkout without meaning to the cart.
	Attributes map[string]string
}

func (l Line) clone() Line {
	if l.Attributes != nil {
		attrs := make(map[string]string, len(l.Attributes))
		for k, v := range l.Attributes {
			attrs[k] = v
		}
		l.Attributes = attrs
	}
	return l
}

// Subtotal returns price * quantity for the line.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is the state of a cart at a point in time. Version increases by one
// with every persisted mutation and is used as the precondition for the next
// write.
type Snapshot struct {
	Lines     []Line
	Version   uint64
	UpdatedAt time.Time
}

// IsEmpty reports whether the snapshot holds no lines.
func (s Snapshot) IsEmpty() bool {
	return len(s.Lines) == 0
}

// TotalItems returns the sum of all line quantities.
func (s Snapshot) TotalItems() int {
	total := 0
	for _, l := range s.Lines {
		total += l.Quantity
	}
	return total
}

// TotalPrice returns the sum of price * quantity across all lines.
func (s Snapshot) TotalPrice() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range s.Lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// Line returns the line with the given product id.
func (s Snapshot) Line(id string) (Line, bool) {
	if i := s.index(id); i >= 0 {
		return s.Lines[i].clone(), true
	}
	return Line{}, false
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Lines != nil {
		out.Lines = make([]Line, len(s.Lines))
		for i, l := range s.Lines {
			out.Lines[i] = l.clone()
		}
	}
	return out
}

func (s Snapshot) index(id string) int {
	for i := range s.Lines {
		if s.Lines[i].ID == id {
			return i
		}
	}
	return -1
}

// add merges l into the snapshot. An existing line keeps its name, price and
// image and only grows by the incoming quantity.
func (s *Snapshot) add(l Line) {
	if l.Quantity < 1 {
		l.Quantity = 1
	}
	if i := s.index(l.ID); i >= 0 {
		s.Lines[i].Quantity += l.Quantity
		return
	}
	s.Lines = append(s.Lines, l.clone())
}

// remove drops the line with the given id and reports whether it existed.
func (s *Snapshot) remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.Lines = append(s.Lines[:i], s.Lines[i+1:]...)
	return true
}

// deduct lowers each matching line by the given quantity and reports whether
// anything changed.
func (s *Snapshot) deduct(lines []Line) bool {
	changed := false
	for _, l := range lines {
		i := s.index(l.ID)
		if i < 0 || l.Quantity < 1 {
			continue
		}
		changed = true
		if s.Lines[i].Quantity <= l.Quantity {
			s.Lines = append(s.Lines[:i], s.Lines[i+1:]...)
			continue
		}
		s.Lines[i].Quantity -= l.Quantity
	}
	return changed
}

func (s *Snapshot) setQuantity(id string, qty int, policy QuantityPolicy) (bool, error) {
	i := s.index(id)
	if i < 0 {
		return false, nil
	}
	if qty < 1 {
		switch policy {
		case PolicyRemove:
			return s.remove(id), nil
		default:
			return false, &QuantityError{ProductID: id, Quantity: qty}
		}
	}
	if s.Lines[i].Quantity == qty {
		return false, nil
	}
	s.Lines[i].Quantity = qty
	return true, nil
}
