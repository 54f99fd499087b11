package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/insightdelivered/betreuung-xml/internal/api"
	"github.com/insightdelivered/betreuung-xml/internal/config"
	"github.com/insightdelivered/betreuung-xml/internal/extractor"
	"github.com/insightdelivered/betreuung-xml/internal/logger"
	"github.com/insightdelivered/betreuung-xml/internal/models"
	"github.com/insightdelivered/betreuung-xml/internal/parser"
	"github.com/insightdelivered/betreuung-xml/internal/pipeline"
	"github.com/insightdelivered/betreuung-xml/internal/store"
	"github.com/insightdelivered/betreuung-xml/internal/writer"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "inspect":
		runInspect(os.Args[2:])
	case "convert":
		runConvert(cfg, log, os.Args[2:])
	case "guardians":
		runGuardians(cfg, os.Args[2:])
	case "profiles":
		runProfiles(cfg, os.Args[2:])
	case "rules":
		runRules(cfg, os.Args[2:])
	case "serve":
		runServe(cfg, log, os.Args[2:])
	case "version", "--version":
		fmt.Printf("betreuung-xml v%s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Bank export to Betreuung accounting report (XML)

Converts CSV/XLSX account exports of a ward into the xml-data document
of the court's accounting form.

Usage:
  betreuung-xml <command> [flags]

Commands:
  inspect <file>                 Show detected format, headers and cents guess
  convert [flags]                Build the XML report for one guardian
  guardians import <file.json>   Replace the encrypted guardian list
  guardians list                 List stored guardians and accounts
  profiles import <file.json>    Replace the stored mapping profiles
  profiles list                  List stored mapping profiles
  rules import <file.json>       Replace the stored replacement rules
  rules list                     List stored replacement rules
  serve [--port]                 Start the local HTTP backend
  version                        Print version and exit

Examples:
  # Check how an export will be read
  betreuung-xml inspect umsaetze.csv

  # Two accounts, second one with an explicit mapping profile
  betreuung-xml convert --guardian 7f3c... \
    --source giro=giro.csv --source spar=spar.xlsx@sparkasse \
    --start 01.01.2024 --end 31.12.2024 --opening 1.250,00 \
    --output bericht.xml --csv pruefung.csv

Settings are read from BETREUUNG_SETTINGS_DIR (default: the OS config
directory). The guardian list is encrypted with BETREUUNG_PASSWORD or
the --password flag.
`)
}

// sourceFlag collects repeated --source ACCOUNT_ID=FILE[@PROFILE_ID] values.
type sourceFlag []sourceSpec

type sourceSpec struct {
	AccountID string
	Path      string
	ProfileID string
}

func (s *sourceFlag) String() string {
	parts := make([]string, len(*s))
	for i, sp := range *s {
		parts[i] = sp.AccountID + "=" + sp.Path
		if sp.ProfileID != "" {
			parts[i] += "@" + sp.ProfileID
		}
	}
	return strings.Join(parts, ",")
}

func (s *sourceFlag) Set(value string) error {
	sp, err := parseSource(value)
	if err != nil {
		return err
	}
	*s = append(*s, sp)
	return nil
}

func parseSource(value string) (sourceSpec, error) {
	account, rest, ok := strings.Cut(value, "=")
	account = strings.TrimSpace(account)
	if !ok || account == "" || rest == "" {
		return sourceSpec{}, fmt.Errorf("expected ACCOUNT_ID=FILE[@PROFILE_ID], got %q", value)
	}
	sp := sourceSpec{AccountID: account, Path: rest}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		sp.Path, sp.ProfileID = rest[:i], rest[i+1:]
	}
	if sp.Path == "" {
		return sourceSpec{}, fmt.Errorf("missing file in %q", value)
	}
	return sp, nil
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("Usage: betreuung-xml inspect <file>\n")
	}
	path := fs.Arg(0)

	table, err := extractor.ReadFile(path)
	if err != nil {
		fatalf("Error reading %s: %v\n", path, err)
	}

	fmt.Printf("File:       %s\n", path)
	fmt.Printf("Source:     %s\n", table.Format.Source)
	if table.Format.Charset != "" {
		fmt.Printf("Charset:    %s\n", table.Format.Charset)
	}
	if table.Format.Delimiter != 0 {
		fmt.Printf("Delimiter:  %q\n", table.Format.Delimiter)
	}
	fmt.Printf("Header row: %d\n", table.Format.HeaderRow+1)
	fmt.Printf("Rows:       %d\n", len(table.Rows))
	cents := make(map[string]bool)
	for _, h := range parser.CentsColumns(table.Headers, table.Rows) {
		cents[h] = true
	}
	fmt.Println("Columns:")
	for _, h := range table.Headers {
		if cents[h] {
			fmt.Printf("  - %s  (looks like cents)\n", h)
		} else {
			fmt.Printf("  - %s\n", h)
		}
	}
}

func runConvert(cfg config.Config, log zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	guardianID := fs.String("guardian", "", "ID of the stored guardian")
	start := fs.String("start", "", "Period start (dd.MM.yyyy)")
	end := fs.String("end", "", "Period end (dd.MM.yyyy)")
	opening := fs.String("opening", "0", "Opening balance, e.g. 1.250,00")
	output := fs.String("output", "", "Output XML path (default: <aktenzeichen>.xml)")
	csvPath := fs.String("csv", "", "Also write the final transactions as a review CSV")
	password := fs.String("password", cfg.Password, "Password of the guardian store")
	var sources sourceFlag
	fs.Var(&sources, "source", "ACCOUNT_ID=FILE[@PROFILE_ID], repeatable")
	fs.Parse(args)

	if *guardianID == "" || len(sources) == 0 {
		fatalf("Error: --guardian and at least one --source are required\n")
	}

	s := openStore(cfg)
	guardian, err := s.Guardian(*guardianID, []byte(*password))
	if err != nil {
		fatalf("Error loading guardian %s: %v\n", *guardianID, err)
	}
	profiles, err := s.LoadProfiles()
	if err != nil {
		fatalf("Error loading mapping profiles: %v\n", err)
	}
	rules, err := s.LoadRules()
	if err != nil {
		fatalf("Error loading rules: %v\n", err)
	}

	req := pipeline.Request{
		Guardian:       guardian,
		Rules:          rules,
		PeriodStart:    *start,
		PeriodEnd:      *end,
		OpeningBalance: parser.ParseAmount(*opening),
	}
	for _, sp := range sources {
		account, ok := guardian.Account(sp.AccountID)
		if !ok {
			fatalf("Error: guardian %s has no account %q\n", *guardianID, sp.AccountID)
		}
		profile, err := pipeline.ProfileFor(account, sp.ProfileID, profiles)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		req.Sources = append(req.Sources, pipeline.Source{
			Account: account,
			Path:    sp.Path,
			Profile: profile,
		})
	}

	outPath := *output
	if outPath == "" {
		outPath = reportFileName(guardian)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	fmt.Printf("Processing: %s %s (%s)\n", guardian.FirstName, guardian.LastName, guardian.CaseNumber)
	res, err := pipeline.Run(ctx, req, outPath, nil)
	if res != nil {
		for _, st := range res.Stats {
			fmt.Printf("  %s: %d row(s), %d transaction(s), %d rejected\n", st.Source, st.Rows, st.Accepted, st.Rejected)
		}
	}
	if errors.Is(err, pipeline.ErrOutOfPeriod) {
		fatalf("  %s\n", res.Validation.Message)
	}
	if err != nil {
		fatalf("Error: %v\n", err)
	}

	if *csvPath != "" {
		w := &writer.CSVWriter{IncludeHeader: true}
		if err := w.WriteToFile(*csvPath, res.Report); err != nil {
			fatalf("CSV write failed: %v\n", err)
		}
		fmt.Printf("  Review CSV: %s\n", *csvPath)
	}

	totals := res.Report.Totals()
	fmt.Printf("  Income:  %s\n", totals.Income.StringFixed(2))
	fmt.Printf("  Expense: %s\n", totals.Expense.StringFixed(2))
	fmt.Printf("  Closing: %s\n", totals.Closing.StringFixed(2))
	fmt.Printf("  Output: %s\n", outPath)
	fmt.Println("  Done.")
}

// reportFileName derives a file name from the case number, replacing
// characters that are not allowed in paths.
func reportFileName(g models.Guardian) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(g.CaseNumber))
	if name == "" {
		name = "bericht"
	}
	return name + ".xml"
}

func runGuardians(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("guardians", flag.ExitOnError)
	password := fs.String("password", cfg.Password, "Password of the guardian store")
	fs.Parse(args)
	if *password == "" {
		fatalf("Error: set BETREUUNG_PASSWORD or pass --password\n")
	}
	s := openStore(cfg)

	switch fs.Arg(0) {
	case "import":
		var guardians []models.Guardian
		readJSONFile(fs.Arg(1), &guardians)
		if err := s.SaveGuardians(guardians, []byte(*password)); err != nil {
			fatalf("Error saving guardians: %v\n", err)
		}
		fmt.Printf("Imported %d guardian(s) into %s\n", len(guardians), s.Dir())
	case "list":
		guardians, err := s.LoadGuardians([]byte(*password))
		if err != nil {
			fatalf("Error loading guardians: %v\n", err)
		}
		for _, g := range guardians {
			fmt.Printf("%s  %s, %s  %s\n", g.ID, g.LastName, g.FirstName, g.CaseNumber)
			for _, a := range g.Accounts {
				fmt.Printf("    %s  %s  %s\n", a.ID, a.IBAN, a.BankName)
			}
		}
	default:
		fatalf("Usage: betreuung-xml guardians [--password P] import <file.json> | list\n")
	}
}

func runProfiles(cfg config.Config, args []string) {
	s := openStore(cfg)
	switch firstArg(args) {
	case "import":
		var profiles []models.MappingProfile
		readJSONFile(secondArg(args), &profiles)
		for i := range profiles {
			if profiles[i].ID == "" {
				profiles[i].ID = store.NewID()
			}
		}
		if err := s.SaveProfiles(profiles); err != nil {
			fatalf("Error saving mapping profiles: %v\n", err)
		}
		fmt.Printf("Imported %d mapping profile(s)\n", len(profiles))
	case "list":
		profiles, err := s.LoadProfiles()
		if err != nil {
			fatalf("Error loading mapping profiles: %v\n", err)
		}
		for _, p := range profiles {
			fmt.Printf("%s  %s\n", p.ID, p.Name)
		}
	default:
		fatalf("Usage: betreuung-xml profiles import <file.json> | list\n")
	}
}

func runRules(cfg config.Config, args []string) {
	s := openStore(cfg)
	switch firstArg(args) {
	case "import":
		var rules []models.Rule
		readJSONFile(secondArg(args), &rules)
		for i := range rules {
			if rules[i].ID == "" {
				rules[i].ID = store.NewID()
			}
		}
		if err := s.SaveRules(rules); err != nil {
			fatalf("Error saving rules: %v\n", err)
		}
		fmt.Printf("Imported %d rule(s)\n", len(rules))
	case "list":
		rules, err := s.LoadRules()
		if err != nil {
			fatalf("Error loading rules: %v\n", err)
		}
		for _, r := range rules {
			state := "active"
			if !r.Active {
				state = "inactive"
			}
			scope := "global"
			if ids := r.Scope.MappingIDs(); ids != nil {
				scope = strings.Join(ids, ",")
			}
			fmt.Printf("%s  %-8s  %s  [%s]\n", r.ID, state, r.Name, scope)
		}
	default:
		fatalf("Usage: betreuung-xml rules import <file.json> | list\n")
	}
}

func runServe(cfg config.Config, log zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", cfg.Port, "Port to listen on")
	static := fs.String("static", cfg.StaticDir, "Directory with the UI build")
	fs.Parse(args)

	h := &api.Handler{
		StaticDir: *static,
		Store:     openStore(cfg),
		Password:  []byte(cfg.Password),
		Log:       log,
	}
	app := api.NewApp(h)

	addr := "127.0.0.1:" + *port
	log.Info().Str("addr", addr).Str("settings", h.Store.Dir()).Msg("starting server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func openStore(cfg config.Config) *store.Store {
	s, err := store.Open(cfg.SettingsDir)
	if err != nil {
		fatalf("Error opening settings directory %s: %v\n", cfg.SettingsDir, err)
	}
	return s
}

func readJSONFile(path string, v any) {
	if path == "" {
		fatalf("Error: missing JSON file argument\n")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		fatalf("Error reading %s: %v\n", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		fatalf("Error decoding %s: %v\n", path, err)
	}
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func secondArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
