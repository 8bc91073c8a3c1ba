package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Expenses
// ============================================================

// Expense is a stored expense between a payer and either one participant
// (direct expense) or the members of a group. Expenses are immutable once
// created.
type Expense struct {
	ID                    string                     `json:"id"`
	PayerID               string                     `json:"payerId"`
	ParticipantID         string                     `json:"participantId,omitempty"`
	GroupID               string                     `json:"groupId,omitempty"`
	GroupName             string                     `json:"groupName,omitempty"`
	MemberIDs             []string                   `json:"memberIds,omitempty"`
	PayerName             string                     `json:"payerName"`
	PayerEmail            string                     `json:"payerEmail"`
	Description           string                     `json:"description"`
	Category              string                     `json:"category"`
	Amount                decimal.Decimal            `json:"amount"`
	ParticipantOwedAmount decimal.Decimal            `json:"participantOwedAmount"`
	Shares                map[string]decimal.Decimal `json:"shares,omitempty"`
	CurrencyCode          string                     `json:"currencyCode"`
	Date                  time.Time                  `json:"date"`
}

// IsDirect reports whether the expense is between exactly two users.
func (e *Expense) IsDirect() bool {
	return e.GroupID == ""
}

// Involves reports whether the user paid for or takes part in the expense.
func (e *Expense) Involves(userID string) bool {
	if e.PayerID == userID || e.ParticipantID == userID {
		return true
	}
	for _, id := range e.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ShareFor returns the user's paid or owed part of the expense: the full
// amount for the payer, the owed amount for a direct participant and the
// recorded share for a group member.
func (e *Expense) ShareFor(userID string) decimal.Decimal {
	switch {
	case e.PayerID == userID:
		return e.Amount
	case e.IsDirect() && e.ParticipantID == userID:
		return e.ParticipantOwedAmount
	}
	if s, ok := e.Shares[userID]; ok {
		return s
	}
	return decimal.Zero
}

// GroupLabel returns the group's display name, falling back to its id.
func (e *Expense) GroupLabel() string {
	if e.GroupName != "" {
		return e.GroupName
	}
	return e.GroupID
}
