package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spend-enricher/internal/columns"
	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/logger"
)

var (
	ErrMissingMerchant = errors.New("missing merchant name")
	ErrMissingDate     = errors.New("missing date")
	ErrInvalidAmount   = errors.New("amount is not a number")
	ErrInvalidDate     = errors.New("unrecognized date")

	// ErrNoValidRows fails a whole file: every row was rejected.
	ErrNoValidRows = errors.New("no valid transactions found")
)

// RowError explains why a single row was dropped.
type RowError struct {
	Row   int    `json:"row"`
	Value string `json:"value,omitempty"`
	Err   error  `json:"-"`
}

func (e *RowError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d: %v: %q", e.Row, e.Err, e.Value)
}

func (e *RowError) Unwrap() error { return e.Err }

// ValidationResult holds the rows that survived and why the rest did not.
type ValidationResult struct {
	Transactions []domain.Transaction
	Rejected     []*RowError
}

// Validator converts mapped rows into canonical transactions.
type Validator struct {
	// Now stamps synthesized identifiers.
	Now func() time.Time
	// Nonce ends every synthesized identifier so that rows at the same index
	// of different files never share one.
	Nonce func() string
}

// NewValidator creates a validator using the wall clock and random nonces.
func NewValidator() *Validator {
	return &Validator{Now: time.Now, Nonce: randomNonce}
}

func randomNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ValidateRow builds a Transaction from row using mapping. index is the
// row's position in the file and seeds synthesized identifiers. homeZip is
// used when the row does not carry its own.
func (v *Validator) ValidateRow(row ingest.Row, mapping columns.Mapping, index int, homeZip string) (domain.Transaction, error) {
	get := func(f columns.Field) string {
		h := mapping[f]
		if h == "" {
			return ""
		}
		val, _ := row.Get(h)
		return strings.TrimSpace(val)
	}

	merchant := get(columns.FieldMerchant)
	if merchant == "" {
		return domain.Transaction{}, &RowError{Row: index, Err: ErrMissingMerchant}
	}
	rawDate := get(columns.FieldDate)
	if rawDate == "" {
		return domain.Transaction{}, &RowError{Row: index, Err: ErrMissingDate}
	}

	rawAmount := get(columns.FieldAmount)
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return domain.Transaction{}, &RowError{Row: index, Value: rawAmount, Err: ErrInvalidAmount}
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return domain.Transaction{}, &RowError{Row: index, Value: rawDate, Err: ErrInvalidDate}
	}

	id := get(columns.FieldTransactionID)
	if id == "" {
		id = fmt.Sprintf("%s-%d-%d-%s", SyntheticIDPrefix, v.now().UnixMilli(), index, v.nonce())
	}

	zip := get(columns.FieldZipCode)
	if n := domain.NormalizeZip(zip); n != "" {
		zip = n
	}

	home := domain.ParseHomeZip(row.HomeZip)
	if home == "" {
		home = domain.ParseHomeZip(homeZip)
	}

	return domain.Transaction{
		ID:           id,
		Merchant:     merchant,
		Description:  get(columns.FieldDescription),
		CategoryCode: get(columns.FieldMCC),
		Amount:       amount,
		Date:         date,
		ZipCode:      zip,
		HomeZip:      home,
	}, nil
}

// ValidateRows validates every row, logging and collecting rejections.
// It fails only when no row survives.
func (v *Validator) ValidateRows(ctx context.Context, rows []ingest.Row, mapping columns.Mapping, homeZip string) (*ValidationResult, error) {
	log := logger.FromContext(ctx)

	res := &ValidationResult{Transactions: make([]domain.Transaction, 0, len(rows))}
	for i, row := range rows {
		tx, err := v.ValidateRow(row, mapping, i, homeZip)
		if err != nil {
			var rowErr *RowError
			if !errors.As(err, &rowErr) {
				rowErr = &RowError{Row: i, Err: err}
			}
			log.Warn().Int("row", i).Err(err).Msg("Rejected row")
			res.Rejected = append(res.Rejected, rowErr)
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}

	if len(res.Transactions) == 0 {
		return res, fmt.Errorf("%w: %d rows rejected", ErrNoValidRows, len(res.Rejected))
	}
	return res, nil
}

func (v *Validator) nonce() string {
	if v.Nonce == nil {
		return randomNonce()
	}
	return v.Nonce()
}

func (v *Validator) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

var amountReplacer = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "", "\t", "", "\u00a0", "")

// ParseAmount reads a signed decimal, ignoring currency symbols, thousands
// separators and whitespace. Accounting negatives such as "(12.50)" are
// accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := amountReplacer.Replace(strings.TrimSpace(s))
	negative := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		clean = clean[1 : len(clean)-1]
		negative = true
	}
	if clean == "" {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// shortDateLayouts cover spreadsheet short dates that dateparse rejects.
var shortDateLayouts = []string{"01-02-06", "1-2-06"}

// ParseDate accepts ISO dates as-is and anything else dateparse understands,
// plus the month-first two-digit-year dashed form ("03-01-25").
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		for _, layout := range shortDateLayouts {
			if st, serr := time.ParseInLocation(layout, s, time.UTC); serr == nil {
				return civil.DateOf(st), nil
			}
		}
		return civil.Date{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	return civil.DateOf(t), nil
}
