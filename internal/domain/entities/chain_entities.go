package entities

import (
	"sort"
	"strings"
)

// AccountType is the Circle developer-controlled wallet account type
type AccountType string

const (
	AccountTypeEOA AccountType = "EOA"
	AccountTypeSCA AccountType = "SCA"
)

// ChainConfig holds the CCTP contract set for one Circle blockchain identifier
type ChainConfig struct {
	Name               string `json:"name" mapstructure:"name"`
	USDC               string `json:"usdc" mapstructure:"usdc"`
	TokenMessenger     string `json:"token_messenger" mapstructure:"token_messenger"`
	MessageTransmitter string `json:"message_transmitter" mapstructure:"message_transmitter"`
	Domain             uint32 `json:"domain" mapstructure:"domain"`
}

// AccountTypeFor picks the wallet account type for a blockchain.
// Avalanche wallets are created as EOAs, everything else as smart contract accounts.
func AccountTypeFor(chain string) AccountType {
	if strings.HasPrefix(chain, "AVAX") {
		return AccountTypeEOA
	}
	return AccountTypeSCA
}

// ChainRegistry is a lookup of chain configs keyed by Circle blockchain identifier
type ChainRegistry map[string]ChainConfig

// NewChainRegistry builds a registry, filling in Name from the key where missing
func NewChainRegistry(chains map[string]ChainConfig) ChainRegistry {
	reg := make(ChainRegistry, len(chains))
	for key, cfg := range chains {
		name := strings.ToUpper(key)
		cfg.Name = name
		reg[name] = cfg
	}
	return reg
}

// Lookup returns the config for a chain. The identifier is matched case-insensitively.
func (r ChainRegistry) Lookup(chain string) (ChainConfig, bool) {
	cfg, ok := r[strings.ToUpper(strings.TrimSpace(chain))]
	return cfg, ok
}

// List returns all chains ordered by CCTP domain
func (r ChainRegistry) List() []ChainConfig {
	out := make([]ChainConfig, 0, len(r))
	for _, cfg := range r {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain == out[j].Domain {
			return out[i].Name < out[j].Name
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// CCTP V2 testnet deployments share the same messenger and transmitter addresses
const (
	TestnetTokenMessengerV2     = "0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"
	TestnetMessageTransmitterV2 = "0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"
)

// DefaultTestnetChains returns the CCTP V2 testnet chain table
func DefaultTestnetChains() map[string]ChainConfig {
	chain := func(usdc string, domain uint32) ChainConfig {
		return ChainConfig{
			USDC:               usdc,
			TokenMessenger:     TestnetTokenMessengerV2,
			MessageTransmitter: TestnetMessageTransmitterV2,
			Domain:             domain,
		}
	}
	return map[string]ChainConfig{
		"ETH-SEPOLIA":  chain("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", 0),
		"AVAX-FUJI":    chain("0x5425890298aed601595a70AB815c96711a31Bc65", 1),
		"OP-SEPOLIA":   chain("0x5fd84259d66Cd46123540766Be93DFE6D43130D7", 2),
		"ARB-SEPOLIA":  chain("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d", 3),
		"BASE-SEPOLIA": chain("0x036CbD53842c5426634e7929541eC2318f3dCF7e", 6),
		"MATIC-AMOY":   chain("0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", 7),
		"UNI-SEPOLIA":  chain("0x31d0220469e10c4E71834a79b1f276d740d3768F", 10),
	}
}
