package etl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/contrap/basegov-etl/internal/models"
)

// nullSentinels are string payloads the API uses to mean "no value".
var nullSentinels = map[string]struct{}{
	"":     {},
	"null": {},
	"NULL": {},
	"n/a":  {},
	"N/A":  {},
}

func isNullSentinel(s string) bool {
	_, ok := nullSentinels[strings.TrimSpace(s)]
	return ok
}

var nonDigits = regexp.MustCompile(`\D`)

// validNIFPrefixes are the first digits assigned by the Portuguese tax
// authority; 0 and 4 are not issued.
var validNIFPrefixes = map[byte]struct{}{
	'1': {}, '2': {}, '3': {}, '5': {}, '6': {}, '7': {}, '8': {}, '9': {},
}

// ValidateNIF checks a Portuguese tax number: strips everything that is
// not a digit, requires exactly nine digits with an issued leading
// digit, and verifies the mod-11 check digit. Returns the cleaned NIF
// and whether it is valid.
func ValidateNIF(raw any) (string, bool) {
	s := asString(raw)
	if isNullSentinel(s) || s == "0" {
		return "", false
	}

	nif := nonDigits.ReplaceAllString(s, "")
	if len(nif) != 9 {
		return "", false
	}
	if _, ok := validNIFPrefixes[nif[0]]; !ok {
		return "", false
	}

	sum := 0
	for i := 0; i < 8; i++ {
		sum += int(nif[i]-'0') * (9 - i)
	}
	check := 11 - sum%11
	if check >= 10 {
		check = 0
	}
	if check != int(nif[8]-'0') {
		return "", false
	}
	return nif, true
}

// dateLayouts in the order they are attempted. Day-first Portuguese
// formats go before ISO so ambiguous values resolve the way the source
// system writes them.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeDate parses any of the date spellings the API emits.
func NormalizeDate(raw any) (time.Time, bool) {
	if t, ok := raw.(time.Time); ok {
		return t, true
	}
	s := asString(raw)
	if isNullSentinel(s) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var currencySymbols = strings.NewReplacer("€", "", "$", "", "£", "", " ", "", " ", "", "\t", "")

// NormalizeAmount parses a monetary value written in either European
// ("1.234.567,89") or US ("1,234,567.89") notation, with optional
// currency symbols. When both separators appear, the one occurring last
// is the decimal mark. A single comma followed by at most two digits is
// a decimal separator; any other comma is a thousands separator.
func NormalizeAmount(raw any) (float64, bool) {
	switch typed := raw.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	}

	s := asString(raw)
	if isNullSentinel(s) {
		return 0, false
	}
	s = currencySymbols.Replace(s)
	if s == "" {
		return 0, false
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			// US: commas group thousands, the dot is the decimal mark.
			s = strings.ReplaceAll(s, ",", "")
		} else {
			// European: dots group thousands, the comma is the decimal mark.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case hasComma:
		idx := strings.LastIndex(s, ",")
		if strings.Count(s, ",") == 1 && len(s)-idx-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// CleanNullValues rewrites null sentinels to real nils, recursing into
// nested lists and objects. Sentinel and empty entries are filtered out
// of lists, and a list left empty becomes nil. Applying it twice yields
// the same record.
func CleanNullValues(rec Record) Record {
	cleaned := make(Record, len(rec))
	for key, value := range rec {
		cleaned[key] = cleanValue(value)
	}
	return cleaned
}

func cleanValue(v any) any {
	switch typed := v.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if isNullSentinel(trimmed) {
			return nil
		}
		return trimmed
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			if clean := cleanValue(item); clean != nil {
				out = append(out, clean)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cleanValue(item)
		}
		return out
	default:
		return v
	}
}

var (
	cpvStrict = regexp.MustCompile(`^(\d{8}(?:-\d)?)\s*[-–]?\s*(.*)$`)
	cpvLoose  = regexp.MustCompile(`\d{8}(?:-\d)?`)
)

// ExtractCPVCodes pulls CPV classification codes out of a raw value that
// may be a list, a single string, or a comma-separated bundle. Codes are
// deduplicated preserving first occurrence; a trailing description after
// the code is kept when present.
func ExtractCPVCodes(raw any) []models.CPVCode {
	var items []string
	switch typed := raw.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range typed {
			if s := asString(item); s != "" {
				items = append(items, s)
			}
		}
	case []string:
		items = typed
	default:
		if s := asString(raw); s != "" {
			items = []string{s}
		}
	}

	var codes []models.CPVCode
	seen := make(map[string]struct{})

	add := func(code, description string) {
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		cpv := models.CPVCode{Code: code}
		if description = strings.TrimSpace(description); description != "" {
			cpv.Description = &description
		}
		codes = append(codes, cpv)
	}

	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if m := cpvStrict.FindStringSubmatch(part); m != nil {
				add(m[1], m[2])
				continue
			}
			for _, code := range cpvLoose.FindAllString(part, -1) {
				add(code, "")
			}
		}
	}
	return codes
}

var (
	nameWithNIF = regexp.MustCompile(`^(.*?)\s*\((\d{9})\)\s*$`)
	bareNIF     = regexp.MustCompile(`\b\d{9}\b`)
)

// ParseCompetitors interprets the free-form concorrentes list. Each
// entry may be "NIF - Name", "Name - NIF", "Name (NIF)", contain a bare
// nine-digit NIF, or be a name only. Entries without a valid NIF keep
// the name and leave the NIF nil.
func ParseCompetitors(raw any) []models.Competitor {
	var items []string
	switch typed := raw.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range typed {
			if s := asString(item); s != "" {
				items = append(items, s)
			}
		}
	case []string:
		items = typed
	default:
		if s := asString(raw); s != "" {
			items = []string{s}
		}
	}

	var competitors []models.Competitor
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		comp := parseCompetitor(item)
		if comp.NIF == nil && comp.Name == nil {
			continue
		}
		competitors = append(competitors, comp)
	}
	return competitors
}

func parseCompetitor(s string) models.Competitor {
	var comp models.Competitor

	if nif, name := parseCompositeParty(s); nif != "" {
		comp.NIF = &nif
		if name != "" {
			comp.Name = &name
		}
		return comp
	}

	if m := nameWithNIF.FindStringSubmatch(s); m != nil {
		if nif, ok := ValidateNIF(m[2]); ok {
			name := strings.TrimSpace(m[1])
			comp.NIF = &nif
			if name != "" {
				comp.Name = &name
			}
			return comp
		}
	}

	if match := bareNIF.FindString(s); match != "" {
		if nif, ok := ValidateNIF(match); ok {
			comp.NIF = &nif
			name := strings.Trim(strings.Replace(s, match, "", 1), " -,")
			if name != "" {
				comp.Name = &name
			}
			return comp
		}
	}

	name := s
	comp.Name = &name
	return comp
}

// contractTypeVocabulary is the controlled set of contract types under
// Portuguese procurement law; any value outside it is folded to Outros.
var contractTypeVocabulary = map[string]struct{}{
	"Aquisição de Bens Móveis":       {},
	"Aquisição de Serviços":          {},
	"Empreitadas de Obras Públicas":  {},
	"Concessão de Obras Públicas":    {},
	"Concessão de Serviços Públicos": {},
	"Locação de Bens Móveis":         {},
	"Contrato de Sociedade":          {},
	"Outros":                         {},
}

// contractTypeByLower enables case-insensitive exact matching against
// the vocabulary.
var contractTypeByLower = func() map[string]string {
	m := make(map[string]string, len(contractTypeVocabulary))
	for t := range contractTypeVocabulary {
		m[strings.ToLower(t)] = t
	}
	return m
}()

// contractTypeKeywords maps lowercase substrings to a canonical type,
// checked in a fixed order so results are stable.
var contractTypeKeywords = []struct {
	keyword  string
	contract string
}{
	{"bens", "Aquisição de Bens Móveis"},
	{"serviços", "Aquisição de Serviços"},
	{"serviço", "Aquisição de Serviços"},
	{"empreitada", "Empreitadas de Obras Públicas"},
	{"obras", "Empreitadas de Obras Públicas"},
	{"concessão", "Concessão de Serviços Públicos"},
	{"locação", "Locação de Bens Móveis"},
	{"aluguer", "Locação de Bens Móveis"},
}

// NormalizeContractType folds a raw contract-type value into the
// controlled vocabulary. Exact matches (case-insensitively) pass
// through, keyword matches map to their canonical type, and anything
// else becomes "Outros". Null sentinels return false.
func NormalizeContractType(raw any) (string, bool) {
	s := asString(raw)
	if isNullSentinel(s) {
		return "", false
	}
	if _, ok := contractTypeVocabulary[s]; ok {
		return s, true
	}
	lower := strings.ToLower(s)
	if canonical, ok := contractTypeByLower[lower]; ok {
		return canonical, true
	}
	for _, entry := range contractTypeKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.contract, true
		}
	}
	return "Outros", true
}

// ValidateAnnouncement checks that a raw announcement record carries the
// fields the pipeline cannot proceed without: an identifier, the owning
// entity's NIF and a publication date. Returns the list of violations;
// an empty list means the record is loadable.
func ValidateAnnouncement(rec Record) []string {
	var errs []string

	if ExtractAnnouncementID(rec) == "" {
		errs = append(errs, "missing announcement identifier")
	}
	if nif := ExtractEntityNIF(rec); nif == "" {
		errs = append(errs, "missing entity NIF")
	} else if _, ok := ValidateNIF(nif); !ok {
		errs = append(errs, fmt.Sprintf("invalid entity NIF %q", nif))
	}
	if raw := firstRaw(rec, "dataPublicacao", "data_publicacao"); raw == nil {
		errs = append(errs, "missing publication date")
	} else if _, ok := NormalizeDate(raw); !ok {
		errs = append(errs, fmt.Sprintf("unparseable publication date %q", asString(raw)))
	}
	for _, field := range []string{"dataFimProposta", "dataAberturaPropostas"} {
		if raw, ok := rec[field]; ok && !isNilValue(raw) {
			if _, ok := NormalizeDate(raw); !ok {
				errs = append(errs, fmt.Sprintf("unparseable date in %s: %q", field, asString(raw)))
			}
		}
	}
	if raw := firstRaw(rec, "PrecoBase", "precoBase", "valorBase"); raw != nil {
		// Unparseable amounts load with a null price; only a parsed
		// negative rejects the record.
		if value, ok := NormalizeAmount(raw); ok && value < 0 {
			errs = append(errs, fmt.Sprintf("negative base price %v", value))
		}
	}
	return errs
}

// ValidateContract checks a raw contract record: identifier,
// contracting authority NIF and publication date are required.
func ValidateContract(rec Record) []string {
	var errs []string

	if ExtractContractID(rec) == "" {
		errs = append(errs, "missing contract identifier")
	}
	if nif := ExtractContractEntityNIF(rec); nif == "" {
		errs = append(errs, "missing contracting authority NIF")
	} else if _, ok := ValidateNIF(nif); !ok {
		errs = append(errs, fmt.Sprintf("invalid contracting authority NIF %q", nif))
	}
	if nif := firstPresent(rec, "nifAdjudicatario", "nif_adjudicatario"); nif != "" {
		if _, ok := ValidateNIF(nif); !ok {
			errs = append(errs, fmt.Sprintf("invalid supplier NIF %q", nif))
		}
	}
	if raw := firstRaw(rec, "precoContratual", "preco_contratual", "valorAdjudicacao", "valor_adjudicacao"); raw != nil {
		if value, ok := NormalizeAmount(raw); ok && value < 0 {
			errs = append(errs, fmt.Sprintf("negative contract value %v", value))
		}
	}
	if raw := firstRaw(rec, "dataPublicacao", "data_publicacao"); raw == nil {
		errs = append(errs, "missing publication date")
	} else if _, ok := NormalizeDate(raw); !ok {
		errs = append(errs, fmt.Sprintf("unparseable publication date %q", asString(raw)))
	}
	for _, field := range []string{"dataCelebracaoContrato", "dataInicioExecucao", "dataFimExecucao"} {
		if raw, ok := rec[field]; ok && !isNilValue(raw) {
			if _, ok := NormalizeDate(raw); !ok {
				errs = append(errs, fmt.Sprintf("unparseable date in %s: %q", field, asString(raw)))
			}
		}
	}
	return errs
}

// ValidateEntity checks a raw entity record. A valid NIF and a
// designation are both required; only entities referenced from other
// records get a placeholder name downstream.
func ValidateEntity(rec Record) []string {
	var errs []string

	nif := ExtractEntityNIF(rec)
	if nif == "" {
		errs = append(errs, "missing NIF")
	} else if _, ok := ValidateNIF(nif); !ok {
		errs = append(errs, fmt.Sprintf("invalid NIF %q", nif))
	}
	if ExtractEntityName(rec) == "" {
		errs = append(errs, "missing designation")
	}
	return errs
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return isNullSentinel(s)
	}
	return false
}

// firstRaw returns the first candidate key whose value is present and
// not a null sentinel, preserving the raw type.
func firstRaw(rec Record, candidates ...string) any {
	for _, key := range candidates {
		if v, ok := rec[key]; ok && !isNilValue(v) {
			return v
		}
	}
	return nil
}
