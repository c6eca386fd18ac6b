package etl

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestValidateNIF(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
		ok    bool
	}{
		{name: "Valid public body NIF", input: "500000000", want: "500000000", ok: true},
		{name: "Valid NIF with correct check digit", input: "123456789", want: "123456789", ok: true},
		{name: "Formatting characters are stripped", input: "PT 500.000.000", want: "500000000", ok: true},
		{name: "Wrong check digit", input: "123456780", ok: false},
		{name: "All nines fails checksum", input: "999999999", ok: false},
		{name: "Leading digit 4 is not issued", input: "400000002", ok: false},
		{name: "Leading zero is not issued", input: "012345678", ok: false},
		{name: "Too short", input: "12345678", ok: false},
		{name: "Too long", input: "1234567890", ok: false},
		{name: "Null sentinel", input: "NULL", ok: false},
		{name: "Lowercase null sentinel", input: "null", ok: false},
		{name: "N/A sentinel", input: "N/A", ok: false},
		{name: "Zero sentinel", input: "0", ok: false},
		{name: "Empty string", input: "", ok: false},
		{name: "Nil value", input: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ValidateNIF(tt.input)
			if ok != tt.ok {
				t.Fatalf("ValidateNIF(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ValidateNIF(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateNIFDeterministic(t *testing.T) {
	first, ok1 := ValidateNIF(" 500000000 ")
	second, ok2 := ValidateNIF(" 500000000 ")
	if first != second || ok1 != ok2 {
		t.Errorf("same input produced different results: (%q,%v) vs (%q,%v)", first, ok1, second, ok2)
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  time.Time
		ok    bool
	}{
		{name: "Portuguese day first", input: "15/03/2024", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ok: true},
		{name: "ISO date", input: "2024-03-15", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ok: true},
		{name: "Dashed day first", input: "15-03-2024", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ok: true},
		{name: "Slashed year first", input: "2024/03/15", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ok: true},
		{name: "Dotted day first", input: "15.03.2024", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ok: true},
		{name: "ISO with T timestamp", input: "2024-03-15T10:30:00", want: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), ok: true},
		{name: "ISO with space timestamp", input: "2024-03-15 10:30:00", want: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), ok: true},
		{name: "Impossible calendar date", input: "32/13/2024", ok: false},
		{name: "Gibberish", input: "not a date", ok: false},
		{name: "Null sentinel", input: "NULL", ok: false},
		{name: "Empty", input: "", ok: false},
		{name: "Nil", input: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeDate(tt.input)
			if ok != tt.ok {
				t.Fatalf("NormalizeDate(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("NormalizeDate(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  float64
		ok    bool
	}{
		{name: "European format", input: "1.234.567,89", want: 1234567.89, ok: true},
		{name: "US format", input: "1,234,567.89", want: 1234567.89, ok: true},
		{name: "US format single group", input: "1,234.56", want: 1234.56, ok: true},
		{name: "European format single group", input: "1.234,56", want: 1234.56, ok: true},
		{name: "Comma as decimal separator", input: "1000,50", want: 1000.50, ok: true},
		{name: "Comma with one decimal digit", input: "1000,5", want: 1000.5, ok: true},
		{name: "Comma as thousands separator", input: "1,234", want: 1234, ok: true},
		{name: "Plain decimal", input: "1234.56", want: 1234.56, ok: true},
		{name: "Euro symbol stripped", input: "€ 1000", want: 1000, ok: true},
		{name: "Trailing euro symbol", input: "1.500,00 €", want: 1500, ok: true},
		{name: "Dollar symbol stripped", input: "$99.90", want: 99.90, ok: true},
		{name: "Already numeric", input: float64(42.5), want: 42.5, ok: true},
		{name: "Integer input", input: 42, want: 42, ok: true},
		{name: "Null sentinel", input: "NULL", ok: false},
		{name: "Only currency symbol", input: "€", ok: false},
		{name: "Gibberish", input: "abc", ok: false},
		{name: "Nil", input: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeAmount(tt.input)
			if ok != tt.ok {
				t.Fatalf("NormalizeAmount(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("NormalizeAmount(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanNullValues(t *testing.T) {
	rec := Record{
		"kept":   "value",
		"upper":  "NULL",
		"lower":  "null",
		"na":     "N/A",
		"empty":  "",
		"spaces": "  padded  ",
		"number": float64(7),
		"nested": map[string]any{"inner": "null", "ok": "x"},
		"list":   []any{"NULL", "kept", ""},
		"gone":   []any{"NULL", "", "N/A"},
	}

	cleaned := CleanNullValues(rec)

	if cleaned["kept"] != "value" {
		t.Errorf("kept = %v", cleaned["kept"])
	}
	for _, key := range []string{"upper", "lower", "na", "empty"} {
		if cleaned[key] != nil {
			t.Errorf("%s = %v, want nil", key, cleaned[key])
		}
	}
	if cleaned["spaces"] != "padded" {
		t.Errorf("spaces = %v, want trimmed", cleaned["spaces"])
	}
	if cleaned["number"] != float64(7) {
		t.Errorf("number changed: %v", cleaned["number"])
	}
	nested := cleaned["nested"].(map[string]any)
	if nested["inner"] != nil || nested["ok"] != "x" {
		t.Errorf("nested not cleaned: %v", nested)
	}
	list := cleaned["list"].([]any)
	if len(list) != 1 || list[0] != "kept" {
		t.Errorf("sentinel entries not filtered from list: %v", list)
	}
	if cleaned["gone"] != nil {
		t.Errorf("empty list should become nil: %v", cleaned["gone"])
	}
}

func TestCleanNullValuesIdempotent(t *testing.T) {
	rec := Record{"a": "NULL", "b": " x ", "c": []any{"null", "y"}}
	once := CleanNullValues(rec)
	twice := CleanNullValues(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("cleaning twice differs: %v vs %v", once, twice)
	}
}

func TestExtractCPVCodes(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		wantCodes []string
	}{
		{name: "Code with description", input: "45000000-7 - Construction work", wantCodes: []string{"45000000-7"}},
		{name: "Bare code", input: "45000000", wantCodes: []string{"45000000"}},
		{name: "List of codes", input: []any{"45000000-7", "50000000-5 Repair services"}, wantCodes: []string{"45000000-7", "50000000-5"}},
		{name: "Comma separated bundle", input: "45000000-7, 50000000-5", wantCodes: []string{"45000000-7", "50000000-5"}},
		{name: "Duplicates collapse", input: []any{"45000000-7", "45000000-7 - Obras"}, wantCodes: []string{"45000000-7"}},
		{name: "No code present", input: "sem código", wantCodes: nil},
		{name: "Nil", input: nil, wantCodes: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCPVCodes(tt.input)
			var codes []string
			for _, cpv := range got {
				codes = append(codes, cpv.Code)
			}
			if !reflect.DeepEqual(codes, tt.wantCodes) {
				t.Errorf("ExtractCPVCodes(%v) = %v, want %v", tt.input, codes, tt.wantCodes)
			}
		})
	}

	t.Run("Description is captured", func(t *testing.T) {
		got := ExtractCPVCodes("45000000-7 - Construction work")
		if len(got) != 1 || got[0].Description == nil || *got[0].Description != "Construction work" {
			t.Fatalf("description not captured: %+v", got)
		}
	})
}

func TestParseCompetitors(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantNIF  string
		wantName string
	}{
		{name: "NIF dash name", input: []any{"500000000 - Empresa Alfa"}, wantNIF: "500000000", wantName: "Empresa Alfa"},
		{name: "Name dash NIF", input: []any{"Empresa Alfa - 500000000"}, wantNIF: "500000000", wantName: "Empresa Alfa"},
		{name: "Name with NIF in parentheses", input: []any{"Empresa Alfa (500000000)"}, wantNIF: "500000000", wantName: "Empresa Alfa"},
		{name: "Bare NIF inside text", input: []any{"Empresa Alfa 500000000"}, wantNIF: "500000000", wantName: "Empresa Alfa"},
		{name: "Name only", input: []any{"Empresa Sem NIF"}, wantNIF: "", wantName: "Empresa Sem NIF"},
		{name: "Invalid NIF keeps name only", input: []any{"Empresa Beta - 999999999"}, wantNIF: "", wantName: "Empresa Beta - 999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCompetitors(tt.input)
			if len(got) != 1 {
				t.Fatalf("got %d competitors, want 1", len(got))
			}
			comp := got[0]
			nif := ""
			if comp.NIF != nil {
				nif = *comp.NIF
			}
			name := ""
			if comp.Name != nil {
				name = *comp.Name
			}
			if nif != tt.wantNIF {
				t.Errorf("NIF = %q, want %q", nif, tt.wantNIF)
			}
			if name != tt.wantName {
				t.Errorf("Name = %q, want %q", name, tt.wantName)
			}
		})
	}

	t.Run("Empty entries are dropped", func(t *testing.T) {
		if got := ParseCompetitors([]any{"", "  "}); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})
}

func TestNormalizeContractType(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
		ok    bool
	}{
		{name: "Exact vocabulary match", input: "Aquisição de Serviços", want: "Aquisição de Serviços", ok: true},
		{name: "Case-insensitive vocabulary match", input: "aquisição de serviços", want: "Aquisição de Serviços", ok: true},
		{name: "Keyword match empreitada", input: "Contrato de empreitada de renovação", want: "Empreitadas de Obras Públicas", ok: true},
		{name: "Keyword match services", input: "prestação de serviços de limpeza", want: "Aquisição de Serviços", ok: true},
		{name: "Keyword match bens", input: "Fornecimento de bens diversos", want: "Aquisição de Bens Móveis", ok: true},
		{name: "Keyword match aluguer", input: "Aluguer de viaturas", want: "Locação de Bens Móveis", ok: true},
		{name: "Keyword match concessão", input: "Concessão de exploração", want: "Concessão de Serviços Públicos", ok: true},
		{name: "Keyword match obras", input: "Obras de reabilitação", want: "Empreitadas de Obras Públicas", ok: true},
		{name: "Unknown folds to Outros", input: "Algo completamente diferente", want: "Outros", ok: true},
		{name: "Null sentinel", input: "NULL", ok: false},
		{name: "Empty", input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeContractType(tt.input)
			if ok != tt.ok {
				t.Fatalf("NormalizeContractType(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("NormalizeContractType(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateAnnouncement(t *testing.T) {
	tests := []struct {
		name      string
		rec       Record
		wantValid bool
	}{
		{
			name: "Complete record",
			rec: Record{
				"nAnuncio":       "123/2024",
				"objetoContrato": "Fornecimento de material",
				"nifEntidade":    "500000000",
				"dataPublicacao": "15/03/2024",
				"PrecoBase":      "1.000,00",
			},
			wantValid: true,
		},
		{
			name:      "Missing identifier",
			rec:       Record{"nifEntidade": "500000000", "dataPublicacao": "15/03/2024"},
			wantValid: false,
		},
		{
			name:      "Missing entity NIF",
			rec:       Record{"nAnuncio": "123/2024", "dataPublicacao": "15/03/2024"},
			wantValid: false,
		},
		{
			name:      "Missing publication date",
			rec:       Record{"nAnuncio": "123/2024", "nifEntidade": "500000000"},
			wantValid: false,
		},
		{
			name: "Invalid entity NIF",
			rec: Record{
				"nAnuncio":       "123/2024",
				"nifEntidade":    "999999999",
				"dataPublicacao": "15/03/2024",
			},
			wantValid: false,
		},
		{
			name: "Bad publication date",
			rec: Record{
				"nAnuncio":       "123/2024",
				"nifEntidade":    "500000000",
				"dataPublicacao": "not-a-date",
			},
			wantValid: false,
		},
		{
			name: "Negative base price",
			rec: Record{
				"nAnuncio":       "123/2024",
				"nifEntidade":    "500000000",
				"dataPublicacao": "15/03/2024",
				"PrecoBase":      "-100",
			},
			wantValid: false,
		},
		{
			name: "Unparseable base price loads with null price",
			rec: Record{
				"nAnuncio":       "123/2024",
				"nifEntidade":    "500000000",
				"dataPublicacao": "15/03/2024",
				"PrecoBase":      "a combinar",
			},
			wantValid: true,
		},
		{
			name: "Bad optional deadline date",
			rec: Record{
				"nAnuncio":        "123/2024",
				"nifEntidade":     "500000000",
				"dataPublicacao":  "15/03/2024",
				"dataFimProposta": "amanhã",
			},
			wantValid: false,
		},
		{
			name: "INCM fallback identifier counts",
			rec: Record{
				"IdIncm":         float64(9876),
				"nifEntidade":    "500000000",
				"dataPublicacao": "15/03/2024",
			},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateAnnouncement(tt.rec)
			if (len(errs) == 0) != tt.wantValid {
				t.Errorf("ValidateAnnouncement errors = %v, wantValid %v", errs, tt.wantValid)
			}
		})
	}
}

func TestValidateContract(t *testing.T) {
	tests := []struct {
		name      string
		rec       Record
		wantValid bool
	}{
		{
			name: "Complete record",
			rec: Record{
				"idContrato":      "55501",
				"nifEntidade":     "500000000",
				"dataPublicacao":  "20/03/2024",
				"precoContratual": "10.000,00",
			},
			wantValid: true,
		},
		{
			name:      "Missing identifier",
			rec:       Record{"nifEntidade": "500000000", "dataPublicacao": "20/03/2024"},
			wantValid: false,
		},
		{
			name:      "Missing authority NIF",
			rec:       Record{"idContrato": "55501", "dataPublicacao": "20/03/2024"},
			wantValid: false,
		},
		{
			name:      "Missing publication date",
			rec:       Record{"idContrato": "55501", "nifEntidade": "500000000"},
			wantValid: false,
		},
		{
			name: "Authority NIF from composite adjudicante",
			rec: Record{
				"idContrato":     "55501",
				"adjudicante":    []any{"500000000 - Município de Lisboa"},
				"dataPublicacao": "20/03/2024",
			},
			wantValid: true,
		},
		{
			name: "Unparseable value loads with null price",
			rec: Record{
				"idContrato":      "55501",
				"nifEntidade":     "500000000",
				"dataPublicacao":  "20/03/2024",
				"precoContratual": "dez mil euros",
			},
			wantValid: true,
		},
		{
			name: "Negative value",
			rec: Record{
				"idContrato":      "55501",
				"nifEntidade":     "500000000",
				"dataPublicacao":  "20/03/2024",
				"precoContratual": "-500",
			},
			wantValid: false,
		},
		{
			name: "Invalid supplier NIF",
			rec: Record{
				"idContrato":       "55501",
				"nifEntidade":      "500000000",
				"dataPublicacao":   "20/03/2024",
				"nifAdjudicatario": "999999999",
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateContract(tt.rec)
			if (len(errs) == 0) != tt.wantValid {
				t.Errorf("ValidateContract errors = %v, wantValid %v", errs, tt.wantValid)
			}
		})
	}
}

func TestValidateEntity(t *testing.T) {
	if errs := ValidateEntity(Record{"nif": "500000000", "designacao": "Município"}); len(errs) != 0 {
		t.Errorf("valid entity rejected: %v", errs)
	}
	if errs := ValidateEntity(Record{"designacao": "Sem NIF"}); len(errs) == 0 {
		t.Error("entity without NIF accepted")
	}
	if errs := ValidateEntity(Record{"nif": "500000000"}); len(errs) == 0 {
		t.Error("entity without designation accepted")
	}
	if errs := ValidateEntity(Record{"nif": "999999999", "designacao": "X"}); len(errs) == 0 {
		t.Error("entity with bad checksum accepted")
	}
}

func TestValidateBatch(t *testing.T) {
	records := []Record{
		{"nAnuncio": "1/2024", "nifEntidade": "500000000", "dataPublicacao": "15/03/2024"},
		{"nAnuncio": "2/2024", "nifEntidade": "999999999", "dataPublicacao": "15/03/2024"},
		{"objetoContrato": "Sem campos obrigatórios"},
	}

	valid, invalid, err := ValidateBatch(records, "announcements")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(valid) != 1 {
		t.Errorf("valid = %d, want 1", len(valid))
	}
	if len(invalid) != 2 {
		t.Errorf("invalid = %d, want 2", len(invalid))
	}
	for _, inv := range invalid {
		if len(inv.Errors) == 0 {
			t.Errorf("invalid record without reasons: %v", inv.Record)
		}
	}
}

func TestValidateBatchUnknownType(t *testing.T) {
	_, _, err := ValidateBatch([]Record{{"a": 1}}, "budgets")
	if !errors.Is(err, ErrUnknownRecordType) {
		t.Fatalf("err = %v, want ErrUnknownRecordType", err)
	}
}

func TestValidateBatchModificationsPassThrough(t *testing.T) {
	records := []Record{{"idContrato": "1"}, {}}
	valid, invalid, err := ValidateBatch(records, "modifications")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(valid) != 2 || len(invalid) != 0 {
		t.Errorf("modifications should pass through: valid=%d invalid=%d", len(valid), len(invalid))
	}
}
