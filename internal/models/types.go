package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// RemoteID accepts either a JSON number or a JSON string and keeps it as an opaque string.
type RemoteID string

func (id *RemoteID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RemoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("remote id: %w", err)
	}
	*id = RemoteID(n.String())
	return nil
}

// MarshalJSON emits ids in canonical integer form ("17", "-3") as JSON numbers,
// which is what the remote service issues. Anything else, "007" and "+5"
// included, stays a JSON string.
func (id RemoteID) MarshalJSON() ([]byte, error) {
	if v, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(v, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// NotificationDTO is one record of GET /notifications?username=.
type NotificationDTO struct {
	ID           RemoteID        `json:"id"`
	Type         string          `json:"type"`
	FromUsername string          `json:"from_username"`
	ToUsername   string          `json:"to_username"`
	AssetID      *uint64         `json:"asset_id"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	TxID         *string         `json:"txid"`
	CreatedAt    string          `json:"created_at"`
}

// InvestRequest is the payload of POST /invest/request.
type InvestRequest struct {
	BuyerUsername  string          `json:"buyer_username"`
	SellerUsername string          `json:"seller_username"`
	AssetID        uint64          `json:"asset_id"`
	Amount         decimal.Decimal `json:"amount"`
}

type InvestRequestResponse struct {
	NotificationID RemoteID `json:"notification_id"`
	Status         string   `json:"status"`
	Message        string   `json:"message"`
}

// DecisionRequest is the payload of POST /invest/decision.
type DecisionRequest struct {
	SellerUsername string   `json:"seller_username"`
	NotificationID RemoteID `json:"notification_id"`
	Accept         bool     `json:"accept"`
}

type DecisionResponse struct {
	Status  string `json:"status"`
	TxID    string `json:"txid"`
	LoraURL string `json:"lora_url,omitempty"`
}

// AccountResponse is the part of GET /account/{username} this client reads.
type AccountResponse struct {
	Username string  `json:"username"`
	Name     string  `json:"name"`
	Handle   string  `json:"handle"`
	AssetID  *uint64 `json:"asset_id"`
}

// ErrorResponse covers both error body shapes the remote service emits.
// Detail is a string for domain errors and a list for request validation errors.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

func (e ErrorResponse) Message() string {
	if len(e.Detail) > 0 && !bytes.Equal(e.Detail, []byte("null")) {
		var s string
		if err := json.Unmarshal(e.Detail, &s); err == nil {
			return s
		}
		return string(e.Detail)
	}
	return e.Error
}

// CreateInvestmentRequest is the body of POST /api/v1/investments.
type CreateInvestmentRequest struct {
	Seller  string          `json:"seller"`
	Name    string          `json:"name"`
	Handle  string          `json:"handle"`
	AssetID uint64          `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// DecisionBody is the body of POST /api/v1/notifications/{id}/decision.
type DecisionBody struct {
	Decision string `json:"decision"`
}
