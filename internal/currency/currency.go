package currency

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Type classifies a settlement currency.
type Type string

const (
	TypeETH     Type = "ETH"
	TypeBTC     Type = "BTC"
	TypeERC20   Type = "ERC20"
	TypeISO4217 Type = "ISO4217"
)

// Currency is the canonical form of a human currency descriptor. For
// ERC20 currencies Value is the token contract address on Network.
type Currency struct {
	Type    Type
	Value   string
	Network string
}

// TokenInfo describes one registered ERC20 token.
type TokenInfo struct {
	Symbol   string
	Network  string
	Address  common.Address
	Decimals int32
}

const defaultNetwork = "mainnet"

// erc20DefaultDecimals is used for tokens not present in the registry,
// matching the overwhelmingly common ERC20 choice.
const erc20DefaultDecimals = 18

var iso4217Decimals = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CHF": 2,
	"JPY": 0,
}

// Registry resolves human currency strings ("DAI", "CTBK-rinkeby",
// "ETH", "USD") to canonical currencies and their decimal precision.
// Resolution happens before a settlement request is constructed; the
// settlement engine itself never interprets decimals.
type Registry struct {
	tokens map[string]TokenInfo
}

func NewRegistry() *Registry {
	r := &Registry{tokens: make(map[string]TokenInfo)}
	for _, t := range defaultTokens {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a token, keyed by symbol and network.
func (r *Registry) Register(info TokenInfo) {
	r.tokens[tokenKey(info.Symbol, info.Network)] = info
}

func tokenKey(symbol, network string) string {
	return strings.ToUpper(symbol) + "@" + strings.ToLower(network)
}

// FromString parses a currency descriptor of the form SYMBOL or
// SYMBOL-network. ERC20 symbols resolve to their registered contract
// address; unknown symbols are an error.
func (r *Registry) FromString(descriptor string) (Currency, error) {
	symbol := descriptor
	network := defaultNetwork
	if idx := strings.Index(descriptor, "-"); idx >= 0 {
		symbol = descriptor[:idx]
		network = strings.ToLower(descriptor[idx+1:])
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	switch symbol {
	case "ETH":
		return Currency{Type: TypeETH, Value: "ETH"}, nil
	case "BTC":
		return Currency{Type: TypeBTC, Value: "BTC"}, nil
	}
	if _, ok := iso4217Decimals[symbol]; ok {
		return Currency{Type: TypeISO4217, Value: symbol}, nil
	}
	if info, ok := r.tokens[tokenKey(symbol, network)]; ok {
		return Currency{Type: TypeERC20, Value: info.Address.Hex(), Network: info.Network}, nil
	}
	return Currency{}, fmt.Errorf("unsupported currency %s", descriptor)
}

// Decimals returns the decimal precision of a currency. ERC20 tokens not
// present in the registry fall back to the standard 18.
func (r *Registry) Decimals(c Currency) (int32, error) {
	switch c.Type {
	case TypeETH:
		return 18, nil
	case TypeBTC:
		return 8, nil
	case TypeISO4217:
		if d, ok := iso4217Decimals[c.Value]; ok {
			return d, nil
		}
		return 0, fmt.Errorf("unknown ISO 4217 currency %s", c.Value)
	case TypeERC20:
		for _, info := range r.tokens {
			if strings.EqualFold(info.Address.Hex(), c.Value) {
				return info.Decimals, nil
			}
		}
		return erc20DefaultDecimals, nil
	}
	return 0, fmt.Errorf("currency type %s not implemented", c.Type)
}

// TokenAddress returns the ledger token identity of an ERC20 currency.
func (r *Registry) TokenAddress(c Currency) (common.Address, error) {
	if c.Type != TypeERC20 {
		return common.Address{}, fmt.Errorf("currency %s is not an ERC20 token", c.Value)
	}
	if !common.IsHexAddress(c.Value) {
		return common.Address{}, fmt.Errorf("invalid token address %s", c.Value)
	}
	return common.HexToAddress(c.Value), nil
}

// ParseAmount converts a human decimal amount to ledger-native units.
// The value must be non-negative and must not carry more fractional
// digits than the currency's precision.
func ParseAmount(value string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", value, decimals)
	}
	return shifted.BigInt(), nil
}

var defaultTokens = []TokenInfo{
	{Symbol: "DAI", Network: "mainnet", Address: common.HexToAddress("0x89d24A6b4CcB1B6fAA2625fE562bDD9a23260359"), Decimals: 18},
	{Symbol: "REQ", Network: "mainnet", Address: common.HexToAddress("0x8f8221aFbB33998d8584A2B05749bA73c37a938a"), Decimals: 18},
	{Symbol: "CTBK", Network: "rinkeby", Address: common.HexToAddress("0x995d6a8c21f24be1dd04e105dd0d83758343e258"), Decimals: 18},
}
