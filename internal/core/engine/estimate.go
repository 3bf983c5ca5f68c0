package engine

import (
	"encoding/json"
)

// CostEstimator turns a request into cost units for the cost bucket. It is a
// deliberately rough heuristic (about four characters per unit plus fixed
// overheads); it only has to keep the budget from being flooded.
type CostEstimator struct {
	CharsPerUnit    int
	BaseOverhead    float64
	PerArgOverhead  float64
	OutputAllowance float64
}

// DefaultCostEstimator returns the stock heuristic.
func DefaultCostEstimator() CostEstimator {
	return CostEstimator{
		CharsPerUnit:    4,
		BaseOverhead:    50,
		PerArgOverhead:  10,
		OutputAllowance: 512,
	}
}

// Request estimates the cost of sending a request.
func (e CostEstimator) Request(kind string, payload []byte, args map[string]any) float64 {
	chars := len(kind) + len(payload)
	if len(args) > 0 {
		if raw, err := json.Marshal(args); err == nil {
			chars += len(raw)
		}
	}
	return float64(chars/e.charsPerUnit()) + e.BaseOverhead + e.PerArgOverhead*float64(len(args))
}

// Estimate is the reservation made before a call: the request cost plus the
// output allowance.
func (e CostEstimator) Estimate(kind string, payload []byte, args map[string]any) float64 {
	return e.Request(kind, payload, args) + e.OutputAllowance
}

// Actual computes the observed cost once the size of the raw response is
// known.
func (e CostEstimator) Actual(kind string, payload []byte, args map[string]any, responseBytes int) float64 {
	return e.Request(kind, payload, args) + float64(responseBytes/e.charsPerUnit())
}

func (e CostEstimator) charsPerUnit() int {
	if e.CharsPerUnit < 1 {
		return 4
	}
	return e.CharsPerUnit
}
