package view

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceOptions controls FormatPriceWithZeroCount
type PriceOptions struct {
	// Fractions with more leading zeros than this are compressed to 0.0(k)ddd
	AdditionalZeroThreshold int
	SignificantDigits       int
	DefaultDisplayDecimals  int
	MinNormalDecimals       int
}

// DefaultPriceOptions are used for token prices
var DefaultPriceOptions = PriceOptions{
	AdditionalZeroThreshold: 3,
	SignificantDigits:       3,
	DefaultDisplayDecimals:  6,
	MinNormalDecimals:       2,
}

// USDOptions are used for pool values in USD
var USDOptions = PriceOptions{
	AdditionalZeroThreshold: 3,
	SignificantDigits:       3,
	DefaultDisplayDecimals:  2,
	MinNormalDecimals:       2,
}

// FormatPriceWithZeroCount renders a decimal string for display. Very small
// values keep their significant digits and count the elided zeros instead:
// 0.00001234 becomes "0.0(3)123".
func FormatPriceWithZeroCount(s string, opts PriceOptions) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "N/A"
	}
	num, ok := leadingNumber(strings.ReplaceAll(s, ",", ""))
	if !ok {
		return "Invalid"
	}
	if num.IsZero() {
		return joinFixed("", "0", strings.Repeat("0", opts.MinNormalDecimals))
	}

	sign := ""
	if num.IsNegative() {
		sign = "-"
	}
	abs := num.Abs()

	if abs.LessThan(decimal.NewFromInt(1)) {
		_, frac, _ := strings.Cut(abs.StringFixed(20), ".")
		zeros := len(frac) - len(strings.TrimLeft(frac, "0"))
		if zeros >= 1 && zeros > opts.AdditionalZeroThreshold {
			sig := frac[zeros:]
			if len(sig) > opts.SignificantDigits {
				sig = sig[:opts.SignificantDigits]
			}
			if k := zeros - 1; k > 0 {
				return fmt.Sprintf("%s0.0(%d)%s", sign, k, sig)
			}
			return sign + "0.0" + sig
		}
	}

	places := opts.DefaultDisplayDecimals
	if opts.MinNormalDecimals > places {
		places = opts.MinNormalDecimals
	}
	intPart, frac, _ := strings.Cut(abs.StringFixed(int32(places)), ".")
	minZeros := strings.Repeat("0", opts.MinNormalDecimals)
	if abs.Equal(abs.Truncate(0)) {
		return joinFixed(sign, intPart, minZeros)
	}

	frac = strings.TrimRight(frac, "0")
	if len(frac) < opts.MinNormalDecimals {
		frac = (frac + minZeros)[:opts.MinNormalDecimals]
	}
	if len(frac) > opts.DefaultDisplayDecimals {
		frac = frac[:opts.DefaultDisplayDecimals]
	}
	if frac == "" {
		return joinFixed(sign, intPart, minZeros)
	}
	return joinFixed(sign, intPart, frac)
}

var numberPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// leadingNumber parses the longest numeric prefix, so "12abc" reads as 12
func leadingNumber(s string) (decimal.Decimal, bool) {
	m := numberPrefix.FindString(s)
	if m == "" {
		return decimal.Decimal{}, false
	}
	m = strings.NewReplacer(".e", "e", ".E", "e").Replace(m)
	num, err := decimal.NewFromString(strings.TrimSuffix(m, "."))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return num, true
}

func joinFixed(sign, intPart, frac string) string {
	if frac == "" {
		return sign + intPart
	}
	return sign + intPart + "." + frac
}

// FormatFloat formats v with FormatPriceWithZeroCount
func FormatFloat(v float64, opts PriceOptions) string {
	return FormatPriceWithZeroCount(strconv.FormatFloat(v, 'f', -1, 64), opts)
}

// ToDecimal scales a raw on-chain amount by its token decimals
func ToDecimal(amount *big.Int, decimals int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// FormatUnits renders a raw amount in whole units without losing precision
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "N/A"
	}
	return ToDecimal(amount, decimals).String()
}

// FormatFixed renders a raw amount in whole units with a fixed number of places
func FormatFixed(amount *big.Int, decimals, places int) string {
	if amount == nil {
		return "N/A"
	}
	return ToDecimal(amount, decimals).StringFixed(int32(places))
}

// ShortenAddress renders 0xAbCd...1234 from a checksummed address
func ShortenAddress(addr string, chars int) string {
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return addr
	}
	checksummed := common.HexToAddress(addr).Hex()
	if chars <= 0 || 2+2*chars >= len(checksummed) {
		return checksummed
	}
	return checksummed[:chars+2] + "..." + checksummed[len(checksummed)-chars:]
}

// FormatCountdown renders a duration as "HHh MMm SSs"
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		return "Calculating..."
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02dh %02dm %02ds", total/3600, (total%3600)/60, total%60)
}

// USDText renders the parenthesised USD value shown next to a token amount
func USDText(amount decimal.Decimal, usd *float64) string {
	if usd != nil && *usd >= 0 && amount.IsPositive() {
		return "(" + FormatFloat(*usd, USDOptions) + " USD)"
	}
	if amount.IsZero() {
		return "($0.00 USD)"
	}
	return "(USD Value N/A)"
}
