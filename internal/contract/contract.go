// Package contract handles contract identifier parsing and validation.
package contract

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/atmx/session-engine/internal/model"
)

// Supported security types.
const (
	TypeStock  = "STK"
	TypeFuture = "FUT"
	TypeCash   = "CASH"
	TypeIndex  = "IND"
	TypeOption = "OPT"
	TypeCrypto = "CRYPTO"
)

var validTypes = map[string]bool{
	TypeStock:  true,
	TypeFuture: true,
	TypeCash:   true,
	TypeIndex:  true,
	TypeOption: true,
	TypeCrypto: true,
}

// idRegex matches: {symbol}:{secType}:{exchange}
// Example: AAPL:STK:NASDAQ, ES.H24:FUT:CME, EUR.USD:CASH:IDEALPRO
var idRegex = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._/ -]*):([A-Z]+):([A-Z0-9_]+)$`)

var (
	ErrInvalidID   = errors.New("contract: invalid contract identifier")
	ErrInvalidType = errors.New("contract: unsupported security type")
	ErrDuplicate   = errors.New("contract: duplicate contract")
)

// Parse parses and validates a contract identifier.
// Format: {symbol}:{secType}:{exchange}
func Parse(id string) (model.Contract, error) {
	matches := idRegex.FindStringSubmatch(id)
	if matches == nil {
		return model.Contract{}, fmt.Errorf("%w: %q (expected {symbol}:{secType}:{exchange})",
			ErrInvalidID, id)
	}

	secType := matches[2]
	if !validTypes[secType] {
		return model.Contract{}, fmt.Errorf("%w: %s", ErrInvalidType, secType)
	}

	return model.Contract{
		Symbol:   matches[1],
		SecType:  secType,
		Exchange: matches[3],
	}, nil
}

// ParseAll parses a list of identifiers, rejecting duplicates.
func ParseAll(ids []string) ([]model.Contract, error) {
	seen := make(map[model.Contract]bool, len(ids))
	out := make([]model.Contract, 0, len(ids))
	for _, id := range ids {
		c, err := Parse(id)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
