package writer

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/insightdelivered/betreuung-xml/internal/models"
	"github.com/insightdelivered/betreuung-xml/internal/parser"
)

const (
	Namespace = "http://www.lucom.com/ffw/xml-data-1.0.xsd"
	FormRef   = "catalog://Formulare/BS24T"

	// Slots is the fixed number of account slots and transaction tables in
	// the form.
	Slots = 5

	PayeeWidth   = 20
	PurposeWidth = 24

	declaration     = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>` + "\n"
	timestampLayout = "02.01.2006 15:04:05"
	datasetBaseID   = "linked_Abrechnungstabelle"
)

type xmlData struct {
	XMLName  xml.Name    `xml:"xml-data"`
	Xmlns    string      `xml:"xmlns,attr"`
	Form     string      `xml:"form"`
	Instance xmlInstance `xml:"instance"`
}

type xmlInstance struct {
	Header   xmlRow       `xml:"datarow"`
	Datasets []xmlDataset `xml:"dataset"`
}

type xmlDataset struct {
	ID   string   `xml:"id,attr"`
	Rows []xmlRow `xml:"datarow"`
}

type xmlRow struct {
	Elements []xmlElement `xml:"element"`
}

type xmlElement struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

func (r *xmlRow) add(id, value string) {
	r.Elements = append(r.Elements, xmlElement{ID: id, Value: value})
}

// XMLWriter renders a report as the form's xml-data document.
type XMLWriter struct {
	// Now stamps the aktdate field; time.Now when nil.
	Now func() time.Time
}

// WriteToFile writes the report to path.
func (w *XMLWriter) WriteToFile(path string, r models.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}

	if err := w.Write(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file %q: %w", path, err)
	}
	return nil
}

// Write renders the report to out.
func (w *XMLWriter) Write(out io.Writer, r models.Report) error {
	doc := xmlData{
		Xmlns: Namespace,
		Form:  FormRef,
		Instance: xmlInstance{
			Header:   w.header(r),
			Datasets: datasets(r),
		},
	}

	if _, err := io.WriteString(out, declaration); err != nil {
		return fmt.Errorf("failed to write XML declaration: %w", err)
	}
	enc := xml.NewEncoder(out)
	enc.Indent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode XML: %w", err)
	}
	if _, err := io.WriteString(out, "\n"); err != nil {
		return fmt.Errorf("failed to write XML: %w", err)
	}
	return nil
}

func (w *XMLWriter) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *XMLWriter) header(r models.Report) xmlRow {
	g := r.Guardian
	totals := r.Totals()

	var row xmlRow
	row.add("geschNr", g.CaseNumber)
	row.add("nname", g.LastName)
	row.add("vname", g.FirstName)
	row.add("gebdatum", stringDateTime(g.BirthDate))
	row.add("zeitvom", stringDateTime(r.PeriodStart))
	row.add("zeitbis", stringDateTime(r.PeriodEnd))

	for i, at := range r.Accounts {
		if i >= Slots {
			break
		}
		suffix := strconv.Itoa(i + 1)
		row.add("NameBank"+suffix, at.Account.BankName)
		row.add("KtoNr"+suffix, at.Account.IBAN)
	}

	row.add("ort", g.City)
	row.add("AbrechPos1", formatAmount(r.OpeningBalance))
	row.add("AbrechPos2", formatAmount(totals.Income))
	row.add("SummePos1Pos2", formatAmount(r.OpeningBalance.Add(totals.Income)))
	row.add("AbrechPos3", formatAmount(totals.Expense))
	row.add("zwAusgaben", formatAmount(totals.Expense))
	row.add("zwEinnahmen", formatAmount(totals.Income))
	row.add("Summe", formatAmount(totals.Closing))
	row.add("aktdate", w.now().Format(timestampLayout))
	return row
}

// DatasetID returns the id of the transaction table for slot i (0-based).
func DatasetID(i int) string {
	if i == 0 {
		return datasetBaseID
	}
	return datasetBaseID + strconv.Itoa(i+1)
}

func datasets(r models.Report) []xmlDataset {
	sets := make([]xmlDataset, Slots)
	for i := range sets {
		sets[i].ID = DatasetID(i)
		if i >= len(r.Accounts) {
			sets[i].Rows = []xmlRow{{}}
			continue
		}
		for _, tx := range sortedByDate(r.Accounts[i].Transactions) {
			sets[i].Rows = append(sets[i].Rows, transactionRow(tx))
		}
	}
	return sets
}

func transactionRow(tx models.Transaction) xmlRow {
	var row xmlRow
	row.add("DateS2", dateTime(tx.Date))
	row.add("BezeichnungPos3", Truncate(tx.Payee, PayeeWidth))
	row.add("BezeichnungPos4", Truncate(tx.Purpose, PurposeWidth))
	if tx.Type == models.Expense {
		row.add("ausgaben", formatAmount(tx.Amount))
	} else {
		row.add("einnahmen", formatAmount(tx.Amount))
	}
	return row
}

func sortedByDate(txs []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func dateTime(d civil.Date) string {
	return parser.FormatDateTime(d)
}

// stringDateTime normalises a user-entered date to dd.MM.yyyy 00:00:00.
// Unparseable short dotted values get the time appended; anything else is
// passed through.
func stringDateTime(s string) string {
	if d, ok := parser.ParseDate(s); ok {
		return dateTime(d)
	}
	if len([]rune(s)) <= 10 && strings.Contains(s, ".") {
		return s + " 00:00:00"
	}
	return s
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
