package chain

import (
	_ "embed"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var networksYAML []byte

// Registry holds the deployments the service knows how to talk to.
type Registry struct {
	Networks []Network `yaml:"networks"`
}

// Network is one chain deployment of the DonationDAO and its token.
type Network struct {
	Name         string `yaml:"name"`
	DisplayName  string `yaml:"display_name"`
	ChainID      int64  `yaml:"chain_id"`
	RPCURL       string `yaml:"rpc_url"`
	ExplorerURL  string `yaml:"explorer_url"`
	DonationDAO  string `yaml:"donation_dao"`
	USDT         string `yaml:"usdt"`
	USDTDecimals int32  `yaml:"usdt_decimals"`
}

func (n Network) DAOAddress() common.Address  { return common.HexToAddress(n.DonationDAO) }
func (n Network) USDTAddress() common.Address { return common.HexToAddress(n.USDT) }

// TxURL links a transaction hash on the network's block explorer.
func (n Network) TxURL(hash string) string {
	if n.ExplorerURL == "" {
		return ""
	}
	return n.ExplorerURL + "/tx/" + hash
}

func (n Network) decimals() int32 {
	if n.USDTDecimals == 0 {
		return USDTDecimals
	}
	return n.USDTDecimals
}

// ParseAmount converts a human token amount into base units using the
// network's token decimals.
func (n Network) ParseAmount(s string) (*big.Int, error) {
	return parseUnits(s, n.decimals())
}

func (n Network) FormatAmount(v *big.Int) string {
	return formatUnits(v, n.decimals())
}

func (n Network) validate() error {
	if n.ChainID <= 0 {
		return fmt.Errorf("network %q: chain_id must be positive", n.Name)
	}
	if n.RPCURL == "" {
		return fmt.Errorf("network %q: rpc_url is empty", n.Name)
	}
	if !common.IsHexAddress(n.DonationDAO) {
		return fmt.Errorf("network %q: invalid donation_dao address %q", n.Name, n.DonationDAO)
	}
	if !common.IsHexAddress(n.USDT) {
		return fmt.Errorf("network %q: invalid usdt address %q", n.Name, n.USDT)
	}
	return nil
}

// LoadRegistry parses the embedded network registry, expanding ${ENV}
// references first.
func LoadRegistry() (*Registry, error) {
	return parseRegistry(networksYAML)
}

func parseRegistry(data []byte) (*Registry, error) {
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("error parsing network registry: %w", err)
	}
	return &reg, nil
}

// Lookup returns the named network. rpcOverride replaces the registry RPC URL
// when set.
func (r *Registry) Lookup(name, rpcOverride string) (Network, error) {
	for _, n := range r.Networks {
		if n.Name != name {
			continue
		}
		if rpcOverride != "" {
			n.RPCURL = rpcOverride
		}
		if n.USDTDecimals == 0 {
			n.USDTDecimals = USDTDecimals
		}
		if err := n.validate(); err != nil {
			return Network{}, err
		}
		return n, nil
	}
	return Network{}, fmt.Errorf("network %q not found in registry", name)
}
