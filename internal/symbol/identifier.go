package symbol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/errs"
)

// SecurityType enumerates the asset classes the engine understands.
type SecurityType uint8

const (
	// SecurityTypeBase marks custom user data.
	SecurityTypeBase SecurityType = iota
	// SecurityTypeEquity marks listed equities.
	SecurityTypeEquity
	// SecurityTypeOption marks equity options.
	SecurityTypeOption
	// SecurityTypeForex marks currency pairs.
	SecurityTypeForex
	// SecurityTypeFuture marks futures contracts.
	SecurityTypeFuture
	// SecurityTypeCfd marks contracts for difference.
	SecurityTypeCfd
	// SecurityTypeCrypto marks crypto pairs.
	SecurityTypeCrypto
	// SecurityTypeIndex marks indices.
	SecurityTypeIndex
)

// OptionRight distinguishes calls from puts.
type OptionRight uint8

const (
	// OptionRightCall is the right to buy.
	OptionRightCall OptionRight = iota
	// OptionRightPut is the right to sell.
	OptionRightPut
)

// OptionStyle distinguishes exercise styles.
type OptionStyle uint8

const (
	// OptionStyleAmerican allows exercise any time before expiry.
	OptionStyleAmerican OptionStyle = iota
	// OptionStyleEuropean allows exercise at expiry only.
	OptionStyleEuropean
)

// Decimal digit positions inside the packed properties value, least
// significant first: market (3), security type (1), date days (6),
// option right (1), option style (1), strike scale (1), strike mantissa (6).
const (
	marketWidth   = 1000
	typeOffset    = 1_000
	daysOffset    = 10_000
	daysWidth     = 1_000_000
	rightOffset   = 10_000_000_000
	styleOffset   = 100_000_000_000
	scaleOffset   = 1_000_000_000_000
	strikeOffset  = 10_000_000_000_000
	strikeWidth   = 1_000_000
	maxStrikeMant = strikeWidth - 1
)

// daysEpoch anchors the packed date field.
var daysEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// SecurityIdentifier is a densely-encoded immutable instrument identity.
// It carries the market, security type, and, for derivatives, strike,
// expiry, right, and style. Values are shared freely and never mutated.
type SecurityIdentifier struct {
	symbol     string
	properties uint64
}

// NewEquity builds an identifier for a listed equity.
func NewEquity(ticker string, marketCode uint16) (SecurityIdentifier, error) {
	return newIdentifier(ticker, marketCode, SecurityTypeEquity, time.Time{}, decimal.Zero, OptionRightCall, OptionStyleAmerican)
}

// NewForex builds an identifier for a currency pair.
func NewForex(ticker string, marketCode uint16) (SecurityIdentifier, error) {
	return newIdentifier(ticker, marketCode, SecurityTypeForex, time.Time{}, decimal.Zero, OptionRightCall, OptionStyleAmerican)
}

// NewCrypto builds an identifier for a crypto pair.
func NewCrypto(ticker string, marketCode uint16) (SecurityIdentifier, error) {
	return newIdentifier(ticker, marketCode, SecurityTypeCrypto, time.Time{}, decimal.Zero, OptionRightCall, OptionStyleAmerican)
}

// NewBase builds an identifier for custom user data.
func NewBase(ticker string, marketCode uint16) (SecurityIdentifier, error) {
	return newIdentifier(ticker, marketCode, SecurityTypeBase, time.Time{}, decimal.Zero, OptionRightCall, OptionStyleAmerican)
}

// NewOption builds an identifier for an option contract on the underlying
// ticker. A zero strike and zero expiry produce the canonical chain
// identifier used as the grouping key for option chains.
func NewOption(underlying string, marketCode uint16, expiry time.Time, strike decimal.Decimal, right OptionRight, style OptionStyle) (SecurityIdentifier, error) {
	return newIdentifier(underlying, marketCode, SecurityTypeOption, expiry, strike, right, style)
}

func newIdentifier(ticker string, marketCode uint16, st SecurityType, date time.Time, strike decimal.Decimal, right OptionRight, style OptionStyle) (SecurityIdentifier, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return SecurityIdentifier{}, errs.New("symbol", errs.CodeInvalid, errs.WithMessage("ticker required"))
	}
	if marketCode > maxMarketCode {
		return SecurityIdentifier{}, errs.New("symbol", errs.CodeInvalid, errs.WithMessage("market code out of range"))
	}
	if st > SecurityTypeIndex {
		return SecurityIdentifier{}, errs.New("symbol", errs.CodeInvalid, errs.WithMessage("unknown security type"))
	}

	var days uint64
	if !date.IsZero() {
		d := date.UTC().Truncate(24 * time.Hour).Sub(daysEpoch) / (24 * time.Hour)
		if d < 0 || uint64(d) >= daysWidth {
			return SecurityIdentifier{}, errs.New("symbol", errs.CodeInvalid, errs.WithMessage("date out of encodable range"))
		}
		days = uint64(d)
	}

	mantissa, scale, err := packStrike(strike)
	if err != nil {
		return SecurityIdentifier{}, err
	}

	props := uint64(marketCode) +
		uint64(st)*typeOffset +
		days*daysOffset +
		uint64(right)*rightOffset +
		uint64(style)*styleOffset +
		scale*scaleOffset +
		mantissa*strikeOffset

	return SecurityIdentifier{symbol: ticker, properties: props}, nil
}

func packStrike(strike decimal.Decimal) (mantissa, scale uint64, err error) {
	if strike.IsZero() {
		return 0, 0, nil
	}
	if strike.IsNegative() {
		return 0, 0, errs.New("symbol", errs.CodeInvalid, errs.WithMessage("strike must be non-negative"))
	}
	s := int32(0)
	v := strike
	for !v.Equal(v.Truncate(0)) {
		v = v.Shift(1)
		s++
		if s > 9 {
			return 0, 0, errs.New("symbol", errs.CodeInvalid, errs.WithMessage("strike precision exceeds 9 decimal places"))
		}
	}
	m := v.IntPart()
	if m < 0 || m > maxStrikeMant {
		return 0, 0, errs.New("symbol", errs.CodeInvalid, errs.WithMessage("strike out of encodable range"))
	}
	return uint64(m), uint64(s), nil
}

// Symbol returns the immutable base ticker the identifier was created with.
func (sid SecurityIdentifier) Symbol() string { return sid.symbol }

// Market returns the encoded market code.
func (sid SecurityIdentifier) Market() uint16 {
	return uint16(sid.properties % marketWidth)
}

// SecurityType returns the encoded asset class.
func (sid SecurityIdentifier) SecurityType() SecurityType {
	return SecurityType(sid.properties / typeOffset % 10)
}

// Date returns the encoded date (expiry for derivatives); zero when unset.
func (sid SecurityIdentifier) Date() time.Time {
	days := sid.properties / daysOffset % daysWidth
	if days == 0 {
		return time.Time{}
	}
	return daysEpoch.Add(time.Duration(days) * 24 * time.Hour)
}

// OptionRight returns the encoded right.
func (sid SecurityIdentifier) OptionRight() OptionRight {
	return OptionRight(sid.properties / rightOffset % 10)
}

// OptionStyle returns the encoded style.
func (sid SecurityIdentifier) OptionStyle() OptionStyle {
	return OptionStyle(sid.properties / styleOffset % 10)
}

// StrikePrice returns the encoded strike; zero for non-options.
func (sid SecurityIdentifier) StrikePrice() decimal.Decimal {
	scale := int32(sid.properties / scaleOffset % 10)
	mantissa := int64(sid.properties / strikeOffset % strikeWidth)
	return decimal.New(mantissa, -scale)
}

// IsZero reports whether the identifier is the zero value.
func (sid SecurityIdentifier) IsZero() bool {
	return sid.symbol == "" && sid.properties == 0
}

// String renders the canonical form "SYMBOL PROPS36". It round-trips via
// ParseIdentifier.
func (sid SecurityIdentifier) String() string {
	return sid.symbol + " " + strings.ToUpper(strconv.FormatUint(sid.properties, 36))
}

// ParseIdentifier decodes the canonical string form.
func ParseIdentifier(s string) (SecurityIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SecurityIdentifier{}, errs.New("symbol", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("malformed identifier %q", s)))
	}
	props, err := strconv.ParseUint(strings.ToLower(parts[1]), 36, 64)
	if err != nil {
		return SecurityIdentifier{}, errs.New("symbol", errs.CodeInvalid,
			errs.WithMessage("malformed identifier properties"), errs.WithCause(err))
	}
	return SecurityIdentifier{symbol: parts[0], properties: props}, nil
}
