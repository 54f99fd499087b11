// Package pipeline runs one report conversion: read every statement file,
// map and rewrite its transactions, check the period and render the form.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/betreuung-xml/internal/extractor"
	"github.com/insightdelivered/betreuung-xml/internal/logger"
	"github.com/insightdelivered/betreuung-xml/internal/models"
	"github.com/insightdelivered/betreuung-xml/internal/parser"
	"github.com/insightdelivered/betreuung-xml/internal/rules"
	"github.com/insightdelivered/betreuung-xml/internal/validate"
	"github.com/insightdelivered/betreuung-xml/internal/writer"
)

var (
	// ErrNoSources is returned when a request names no statement files.
	ErrNoSources = errors.New("pipeline: no statement files given")
	// ErrOutOfPeriod wraps the validation message when Run refuses to write
	// a report.
	ErrOutOfPeriod = errors.New("pipeline: transactions outside the reporting period")
)

// Source is one statement export for one account. Data takes precedence
// over Path.
type Source struct {
	Account models.Account
	Path    string
	Name    string
	Data    []byte
	Profile models.MappingProfile
}

func (s Source) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Path
}

// Request describes one report run.
type Request struct {
	Guardian       models.Guardian
	Sources        []Source
	Rules          []models.Rule
	PeriodStart    string
	PeriodEnd      string
	OpeningBalance decimal.Decimal
}

// SourceStats summarises how one file was read.
type SourceStats struct {
	Source   string           `json:"source"`
	Account  string           `json:"account"`
	Format   extractor.Format `json:"format"`
	Rows     int              `json:"rows"`
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Cents    bool             `json:"cents"`
}

// Result is the immutable outcome of Build.
type Result struct {
	Report     models.Report   `json:"-"`
	Validation validate.Result `json:"validation"`
	Stats      []SourceStats   `json:"stats"`
}

// Build reads and transforms every source. Sources naming the same account
// are merged into one account table in source order. Period violations are
// reported in Result.Validation, not as an error.
func Build(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx)

	if len(req.Sources) == 0 {
		return nil, ErrNoSources
	}
	if err := validate.Guardian(req.Guardian); err != nil {
		return nil, fmt.Errorf("pipeline: guardian %q: %w", req.Guardian.ID, err)
	}

	res := &Result{
		Report: models.Report{
			Guardian:       req.Guardian,
			PeriodStart:    req.PeriodStart,
			PeriodEnd:      req.PeriodEnd,
			OpeningBalance: req.OpeningBalance,
		},
	}

	// Sources of the same account share one slot, in first-seen order.
	slots := make(map[string]int)
	for _, src := range req.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		txs, stats, err := processSource(ctx, src, req)
		if err != nil {
			return nil, err
		}
		res.Stats = append(res.Stats, stats)

		key := accountKey(src.Account)
		if i, ok := slots[key]; ok {
			res.Report.Accounts[i].Transactions = append(res.Report.Accounts[i].Transactions, txs...)
			continue
		}
		slots[key] = len(res.Report.Accounts)
		res.Report.Accounts = append(res.Report.Accounts, models.AccountTransactions{
			Account:      src.Account,
			Transactions: txs,
		})
	}
	if len(res.Report.Accounts) > writer.Slots {
		log.Warn().Int("accounts", len(res.Report.Accounts)).Int("slots", writer.Slots).Msg("more accounts than report slots, extra accounts are dropped from the header")
	}

	res.Validation = validate.Period(res.Report.AllTransactions(), req.PeriodStart, req.PeriodEnd)
	if !res.Validation.Valid {
		log.Warn().Int("offending", len(res.Validation.Offending)).Msg(res.Validation.Message)
	}
	return res, nil
}

func processSource(ctx context.Context, src Source, req Request) ([]models.Transaction, SourceStats, error) {
	log := logger.FromContext(ctx).With().Str("source", src.label()).Str("account", src.Account.ID).Logger()
	stats := SourceStats{Source: src.label(), Account: src.Account.ID}

	if err := checkMapping(src.Profile); err != nil {
		return nil, stats, fmt.Errorf("pipeline: %s: %w", src.label(), err)
	}

	table, err := load(src)
	if err != nil {
		return nil, stats, fmt.Errorf("pipeline: %w", err)
	}
	stats.Format = table.Format
	stats.Rows = len(table.Rows)
	log.Debug().
		Str("charset", table.Format.Charset).
		Str("delimiter", string(table.Format.Delimiter)).
		Int("header_row", table.Format.HeaderRow).
		Strs("headers", table.Headers).
		Msg("format detected")

	stats.Cents = src.Profile.Cents
	if !stats.Cents && parser.LooksLikeCents(table.Rows, src.Profile.Columns) {
		log.Debug().Str("profile", src.Profile.ID).Msg("amount columns hold only integers; set cents on the profile if they are cents")
	}
	mapped := parser.MapRows(table.Rows, src.Profile.Columns, src.Profile.Cents)
	stats.Accepted = len(mapped.Transactions)
	stats.Rejected = mapped.Rejected
	log.Info().Int("accepted", stats.Accepted).Int("rejected", stats.Rejected).Bool("cents", stats.Cents).Msg("rows mapped")

	txs := rules.Apply(ctx, mapped.Transactions, req.Rules, req.Guardian, src.Profile.ID)
	return txs, stats, nil
}

func accountKey(a models.Account) string {
	if a.ID != "" {
		return a.ID
	}
	return "iban:" + strings.ToUpper(strings.Join(strings.Fields(a.IBAN), ""))
}

func load(src Source) (*extractor.Table, error) {
	if src.Data != nil {
		t, err := extractor.DecodeAuto(src.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.label(), err)
		}
		return t, nil
	}
	if src.Path == "" {
		return nil, fmt.Errorf("source for account %q has neither data nor path", src.Account.ID)
	}
	return extractor.ReadFile(src.Path)
}

func checkMapping(p models.MappingProfile) error {
	if p.Columns.Column(models.FieldDate) == "" {
		return fmt.Errorf("mapping profile %q has no date column", p.Name)
	}
	if p.Columns.Column(models.FieldExpense) == "" && p.Columns.Column(models.FieldIncome) == "" {
		return fmt.Errorf("mapping profile %q has no amount column", p.Name)
	}
	return nil
}

// Run builds the report and writes it to outPath. Nothing is written when
// the period check fails; the error then wraps ErrOutOfPeriod.
func Run(ctx context.Context, req Request, outPath string, w *writer.XMLWriter) (*Result, error) {
	res, err := Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Validation.Valid {
		return res, fmt.Errorf("%w: %s", ErrOutOfPeriod, res.Validation.Message)
	}

	if w == nil {
		w = &writer.XMLWriter{}
	}
	if err := w.WriteToFile(outPath, res.Report); err != nil {
		return res, err
	}

	totals := res.Report.Totals()
	log := logger.FromContext(ctx)
	log.Info().
		Str("path", outPath).
		Int("accounts", len(res.Report.Accounts)).
		Str("closing", totals.Closing.StringFixed(2)).
		Msg("report written")
	return res, nil
}

// ProfileFor picks the mapping profile for a source: the explicit id when
// given, else the account's default.
func ProfileFor(account models.Account, explicitID string, profiles []models.MappingProfile) (models.MappingProfile, error) {
	id := explicitID
	if id == "" {
		id = account.DefaultMappingID
	}
	if id == "" {
		return models.MappingProfile{}, fmt.Errorf("account %q has no default mapping profile", account.ID)
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return models.MappingProfile{}, fmt.Errorf("mapping profile %q not found", id)
}
