package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"price-oracle/internal/price"
)

const (
	erc4626ABIJSON = `[{"inputs":[{"internalType":"uint256","name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var (
	erc4626ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc4626ABIJSON))
	if err != nil {
		panic("failed to parse ERC-4626 ABI: " + err.Error())
	}
	erc4626ABI = parsed
}

// ContractCaller is the slice of an Ethereum client the vault fetcher uses.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC4626Options parameterise the vault fetcher.
type ERC4626Options struct {
	RPCURL string
	Vault  string
	// ShareDecimals is the vault share token's decimals; one whole share is
	// converted.
	ShareDecimals uint8
	// Decimals is the scale of the reported price, in underlying asset units.
	Decimals uint8
	Timeout  time.Duration
}

// ERC4626 reports how many underlying assets one vault share is worth.
type ERC4626 struct {
	opts      ERC4626Options
	logger    zerolog.Logger
	caller    ContractCaller
	clientMux sync.Mutex
}

// NewERC4626 builds a vault fetcher that dials RPCURL on first use.
func NewERC4626(opts ERC4626Options, logger zerolog.Logger) *ERC4626 {
	return &ERC4626{opts: opts, logger: logger.With().Str("component", "erc4626_fetcher").Str("vault", opts.Vault).Logger()}
}

// NewERC4626WithCaller builds a vault fetcher over an existing client.
func NewERC4626WithCaller(opts ERC4626Options, caller ContractCaller, logger zerolog.Logger) *ERC4626 {
	f := NewERC4626(opts, logger)
	f.caller = caller
	return f
}

// FetchPrice calls convertToAssets(10^shareDecimals) and returns the result
// as a price with Decimals decimals.
func (f *ERC4626) FetchPrice(ctx context.Context) (price.Price, error) {
	if f.caller == nil && f.opts.RPCURL == "" {
		return price.Price{}, fmt.Errorf("%w: ethereum rpc url", ErrNotConfigured)
	}
	if f.opts.Vault == "" {
		return price.Price{}, fmt.Errorf("%w: vault address", ErrNotConfigured)
	}
	if !common.IsHexAddress(f.opts.Vault) {
		return price.Price{}, fmt.Errorf("invalid vault address %q", f.opts.Vault)
	}

	timeout := f.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := f.getCaller(ctx)
	if err != nil {
		return price.Price{}, err
	}

	addr := common.HexToAddress(f.opts.Vault)
	shares := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(f.opts.ShareDecimals)), nil)

	payload, err := erc4626ABI.Pack("convertToAssets", shares)
	if err != nil {
		return price.Price{}, err
	}

	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return price.Price{}, fmt.Errorf("call convertToAssets: %w", err)
	}

	outputs, err := erc4626ABI.Unpack("convertToAssets", res)
	if err != nil {
		return price.Price{}, err
	}

	if len(outputs) != 1 {
		return price.Price{}, errors.New("unexpected convertToAssets response")
	}

	assets, ok := outputs[0].(*big.Int)
	if !ok {
		return price.Price{}, errors.New("failed to decode convertToAssets output")
	}

	p, err := price.FromBig(assets, f.opts.Decimals)
	if err != nil {
		return price.Price{}, fmt.Errorf("encode vault rate: %w", err)
	}
	f.logger.Debug().Str("assets_per_share", p.Decimal().String()).Msg("vault rate fetched")
	return p, nil
}

func (f *ERC4626) getCaller(ctx context.Context) (ContractCaller, error) {
	f.clientMux.Lock()
	defer f.clientMux.Unlock()

	if f.caller != nil {
		return f.caller, nil
	}

	client, err := ethclient.DialContext(ctx, f.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	f.caller = client
	return client, nil
}

var _ PriceFetcher = (*ERC4626)(nil)
