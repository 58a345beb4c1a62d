package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-oracle/internal/price"
)

const (
	cowQuotePath   = "/quote"
	zeroAddressHex = "0x0000000000000000000000000000000000000000"
	defaultCowURL  = "https://api.cow.fi/mainnet/api/v1"
	defaultCowUA   = "priceoracle/1.0"
)

// CowOptions parameterise the CoW Protocol fetcher.
type CowOptions struct {
	BaseURL      string
	PriceQuality string
	Timeout      time.Duration
	UserAgent    string
	SellToken    string
	BuyToken     string
	// SellAmount is the quoted notional in whole sell tokens.
	SellAmount   decimal.Decimal
	SellDecimals uint8
	BuyDecimals  uint8
	// Decimals is the scale of the reported price, in buy tokens per sell token.
	Decimals uint8
}

// Cow prices a sell token in buy tokens from a CoW Protocol quote.
type Cow struct {
	opts    CowOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCow constructs a quote fetcher.
func NewCow(opts CowOptions, logger zerolog.Logger) *Cow {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultCowURL
	}

	return &Cow{
		opts:    opts,
		logger:  logger.With().Str("component", "cow_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice requests a sell quote and returns buyAmount/sellAmount scaled to
// whole tokens, truncated to Decimals.
func (c *Cow) FetchPrice(ctx context.Context) (price.Price, error) {
	if !c.opts.SellAmount.IsPositive() {
		return price.Price{}, errors.New("sell amount must be greater than zero")
	}
	if c.opts.SellToken == "" || c.opts.BuyToken == "" {
		return price.Price{}, fmt.Errorf("%w: sellToken and buyToken addresses required", ErrNotConfigured)
	}

	sellAtoms := c.opts.SellAmount.Shift(int32(c.opts.SellDecimals)).Round(0)
	if sellAtoms.IsZero() {
		return price.Price{}, errors.New("sell amount rounded to zero")
	}

	reqPayload := quoteRequest{
		SellToken:           c.opts.SellToken,
		BuyToken:            c.opts.BuyToken,
		Kind:                "sell",
		From:                zeroAddressHex,
		AppData:             `{"version":"0.7.0","appCode":"priceoracle","metadata":{}}`,
		PriceQuality:        c.opts.PriceQuality,
		SellAmountBeforeFee: sellAtoms.StringFixed(0),
		ValidTo:             uint64(time.Now().Add(5 * time.Minute).Unix()),
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return price.Price{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+cowQuotePath, bytes.NewReader(body))
	if err != nil {
		return price.Price{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultCowUA)
	}
	req.Header.Set("X-AppId", "priceoracle")

	resp, err := c.client.Do(req)
	if err != nil {
		return price.Price{}, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return price.Price{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return price.Price{}, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var quoteRes quoteResponse
	if err := json.Unmarshal(payloadBytes, &quoteRes); err != nil {
		return price.Price{}, err
	}

	buyAtoms, ok := new(big.Int).SetString(quoteRes.Quote.BuyAmount, 10)
	if !ok {
		return price.Price{}, fmt.Errorf("parse buy amount %q", quoteRes.Quote.BuyAmount)
	}
	if buyAtoms.Sign() <= 0 {
		return price.Price{}, errors.New("buy amount returned zero")
	}

	rate, err := quoteRate(buyAtoms, sellAtoms.BigInt(), c.opts.BuyDecimals, c.opts.SellDecimals)
	if err != nil {
		return price.Price{}, err
	}
	p, err := rate.Price(c.opts.Decimals)
	if err != nil {
		return price.Price{}, fmt.Errorf("encode quote rate %s: %w", rate, err)
	}

	quality := quoteRes.PriceQuality
	if quality == "" {
		quality = c.opts.PriceQuality
	}
	c.logger.Debug().
		Str("rate", p.Decimal().String()).
		Str("quality", quality).
		Msg("cow quote fetched")

	return p, nil
}

// quoteRate expresses buyAtoms/sellAtoms in whole tokens as an exact fraction.
func quoteRate(buyAtoms, sellAtoms *big.Int, buyDecimals, sellDecimals uint8) (price.Fraction, error) {
	num := new(big.Int).Set(buyAtoms)
	den := new(big.Int).Set(sellAtoms)
	shift := int64(sellDecimals) - int64(buyDecimals)
	switch {
	case shift > 0:
		num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(shift), nil))
	case shift < 0:
		den.Mul(den, new(big.Int).Exp(big.NewInt(10), big.NewInt(-shift), nil))
	}
	return price.FractionFromBig(num, den)
}

type quoteRequest struct {
	SellToken           string `json:"sellToken"`
	BuyToken            string `json:"buyToken"`
	Kind                string `json:"kind"`
	From                string `json:"from"`
	AppData             string `json:"appData"`
	PriceQuality        string `json:"priceQuality,omitempty"`
	SellAmountBeforeFee string `json:"sellAmountBeforeFee"`
	ValidTo             uint64 `json:"validTo"`
}

type quoteResponse struct {
	Quote struct {
		SellAmount string `json:"sellAmount"`
		BuyAmount  string `json:"buyAmount"`
		FeeAmount  string `json:"feeAmount"`
	} `json:"quote"`
	PriceQuality string `json:"priceQuality"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Description, apiErr.Message, apiErr.ErrorType} {
			if msg != "" {
				return fmt.Errorf("cow api error (%d): %s", status, msg)
			}
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("cow api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("cow api error (%d)", status)
}

var _ PriceFetcher = (*Cow)(nil)
