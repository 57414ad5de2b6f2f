package pos

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gregLibert/smart-pos/pkg/emv"
	"github.com/gregLibert/smart-pos/pkg/message"
)

// TxnType is the kind of a history entry.
type TxnType string

const (
	Sale       TxnType = "SALE"
	QR         TxnType = "QR"
	Void       TxnType = "VOID"
	Refund     TxnType = "REFUND"
	Settlement TxnType = "SETTLEMENT"
)

// Transaction is one history entry. Card is retained for entries that may
// later be voided or refunded.
type Transaction struct {
	ID        string        `json:"id"`
	Type      TxnType       `json:"type"`
	Name      string        `json:"name"`
	Amount    string        `json:"amount"`
	Value     float64       `json:"value"`
	Timestamp time.Time     `json:"timestamp"`
	Voided    bool          `json:"isVoided"`
	Card      *emv.CardData `json:"-"`
}

// FormatAmount renders an amount the way history entries display it.
func FormatAmount(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, currency)
}

// History is the in-memory, append-only transaction list. Entries are
// never removed, only flagged as voided.
type History struct {
	mu      sync.RWMutex
	entries []Transaction
	now     func() time.Time
}

// NewHistory returns an empty History stamping entries with now.
func NewHistory(now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{now: now}
}

// Append stores tx, filling in its id and timestamp when unset, and
// returns the stored entry.
func (h *History) Append(tx Transaction) Transaction {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = h.now()
	}
	if tx.Amount == "" {
		tx.Amount = FormatAmount(tx.Value, message.DefaultCurrency)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, tx)
	return tx
}

// MarkVoided flags entry id as voided. It reports false for an unknown id.
func (h *History) MarkVoided(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.entries {
		if h.entries[i].ID == id {
			h.entries[i].Voided = true
			return true
		}
	}
	return false
}

// All returns every entry in insertion order.
func (h *History) All() []Transaction {
	return h.filter(func(Transaction) bool { return true })
}

// ByType returns the entries of type t, voided or not.
func (h *History) ByType(t TxnType) []Transaction {
	return h.filter(func(tx Transaction) bool { return tx.Type == t })
}

// ActiveByType returns the entries of type t that are not voided.
func (h *History) ActiveByType(t TxnType) []Transaction {
	return h.filter(func(tx Transaction) bool { return tx.Type == t && !tx.Voided })
}

// FindByID looks an entry up by id.
func (h *History) FindByID(id string) (Transaction, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, tx := range h.entries {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Total sums the non-voided SALE and QR entries.
func (h *History) Total() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var sum float64
	for _, tx := range h.entries {
		if !tx.Voided && (tx.Type == Sale || tx.Type == QR) {
			sum += tx.Value
		}
	}
	return sum
}

func (h *History) filter(keep func(Transaction) bool) []Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Transaction, 0, len(h.entries))
	for _, tx := range h.entries {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}
