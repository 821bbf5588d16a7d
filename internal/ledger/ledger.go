// Package ledger records approved payment decisions as simulated
// transactions. Nothing settles; the ledger exists so the demo can show
// which account actually got "paid" in each act.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transaction is one logged payment.
type Transaction struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
	Vendor    string    `json:"vendor"`
	AccountID string    `json:"account_id"`
	Status    string    `json:"status"`
}

// Ledger is an append-only in-memory transaction log.
type Ledger struct {
	mu  sync.Mutex
	txs []Transaction
}

func New() *Ledger {
	return &Ledger{}
}

// Record appends a completed transaction and returns it.
func (l *Ledger) Record(query, vendor, accountID string) Transaction {
	tx := Transaction{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Query:     query,
		Vendor:    vendor,
		AccountID: accountID,
		Status:    "completed",
	}

	l.mu.Lock()
	l.txs = append(l.txs, tx)
	l.mu.Unlock()

	return tx
}

// All returns the transactions in the order they were recorded.
func (l *Ledger) All() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

// Len returns the number of recorded transactions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs)
}
