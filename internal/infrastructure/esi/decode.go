package esi

import (
	"encoding/json"
	"fmt"
	"time"

	"contractwatch/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05Z"

type contractPayload struct {
	ContractID          int64   `json:"contract_id"`
	Type                string  `json:"type"`
	Title               string  `json:"title"`
	DateIssued          string  `json:"date_issued"`
	DateExpired         string  `json:"date_expired"`
	Price               float64 `json:"price"`
	Reward              float64 `json:"reward"`
	Collateral          float64 `json:"collateral"`
	Volume              float64 `json:"volume"`
	DaysToComplete      int     `json:"days_to_complete"`
	IssuerID            int64   `json:"issuer_id"`
	IssuerCorporationID int64   `json:"issuer_corporation_id"`
	StartLocationID     float64 `json:"start_location_id"`
	EndLocationID       int64   `json:"end_location_id"`
}

type lineItemPayload struct {
	RecordID           int64  `json:"record_id"`
	TypeID             int64  `json:"type_id"`
	Quantity           int64  `json:"quantity"`
	Runs               *int64 `json:"runs"`
	MaterialEfficiency *int64 `json:"material_efficiency"`
	TimeEfficiency     *int64 `json:"time_efficiency"`
}

// DecodeContracts parses a listing page. The start location arrives as a
// float upstream and is normalized to an integer here.
func DecodeContracts(body []byte) ([]domain.Contract, error) {
	var payload []contractPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode contracts: %w", err)
	}

	contracts := make([]domain.Contract, 0, len(payload))
	for _, p := range payload {
		c := domain.Contract{
			ID:              p.ContractID,
			Type:            p.Type,
			Title:           p.Title,
			Price:           p.Price,
			Reward:          p.Reward,
			Collateral:      p.Collateral,
			Volume:          p.Volume,
			DaysToComplete:  p.DaysToComplete,
			IssuerID:        p.IssuerID,
			IssuerCorpID:    p.IssuerCorporationID,
			StartLocationID: int64(p.StartLocationID),
			EndLocationID:   p.EndLocationID,
		}
		if p.DateIssued != "" {
			if issued, err := time.Parse(timeLayout, p.DateIssued); err == nil {
				c.IssuedAt = issued
			}
		}
		if p.DateExpired != "" {
			if expires, err := time.Parse(timeLayout, p.DateExpired); err == nil {
				c.ExpiresAt = expires
			}
		}
		contracts = append(contracts, c)
	}

	return contracts, nil
}

// DecodeLineItems parses one page of a contract's line items.
func DecodeLineItems(body []byte) ([]domain.LineItem, error) {
	var payload []lineItemPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}

	items := make([]domain.LineItem, 0, len(payload))
	for _, p := range payload {
		items = append(items, domain.LineItem{
			RecordID:           p.RecordID,
			TypeID:             p.TypeID,
			Quantity:           p.Quantity,
			Runs:               p.Runs,
			MaterialEfficiency: p.MaterialEfficiency,
			TimeEfficiency:     p.TimeEfficiency,
		})
	}

	return items, nil
}
