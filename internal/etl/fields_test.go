package etl

import "testing"

func TestNormalizeFieldNames(t *testing.T) {
	rec := Record{
		"nAnuncio":       "123/2024",
		"dataPublicacao": "15/03/2024",
		"PrecoBase":      "1000",
		"unknownField":   "kept as is",
	}

	norm := NormalizeFieldNames(rec, AnnouncementFieldMap)

	if norm["external_id"] != "123/2024" {
		t.Errorf("external_id = %v", norm["external_id"])
	}
	if norm["publication_date"] != "15/03/2024" {
		t.Errorf("publication_date = %v", norm["publication_date"])
	}
	if norm["base_price"] != "1000" {
		t.Errorf("base_price = %v", norm["base_price"])
	}
	if norm["unknownField"] != "kept as is" {
		t.Errorf("unknown key not passed through: %v", norm["unknownField"])
	}
}

func TestNormalizeFieldNamesAliasCollision(t *testing.T) {
	// Two aliases of base_price: the non-nil one must win no matter the
	// map iteration order.
	rec := Record{
		"PrecoBase": nil,
		"precoBase": "500",
	}
	for i := 0; i < 20; i++ {
		norm := NormalizeFieldNames(rec, AnnouncementFieldMap)
		if norm["base_price"] != "500" {
			t.Fatalf("iteration %d: base_price = %v, want 500", i, norm["base_price"])
		}
	}
}

func TestExtractAnnouncementID(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{name: "Primary field", rec: Record{"nAnuncio": "123/2024"}, want: "123/2024"},
		{name: "Alternative spelling", rec: Record{"id_anuncio": "456"}, want: "456"},
		{name: "Numeric identifier", rec: Record{"idAnuncio": float64(789)}, want: "789"},
		{name: "INCM fallback", rec: Record{"IdIncm": float64(42)}, want: "incm_42"},
		{name: "Primary beats fallback", rec: Record{"nAnuncio": "1", "IdIncm": float64(2)}, want: "1"},
		{name: "Nothing available", rec: Record{"outro": "x"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractAnnouncementID(tt.rec); got != tt.want {
				t.Errorf("ExtractAnnouncementID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractContractID(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{name: "Primary field", rec: Record{"idContrato": "55501"}, want: "55501"},
		{name: "Snake case", rec: Record{"id_contrato": "55502"}, want: "55502"},
		{name: "INCM fallback", rec: Record{"idINCM": "99"}, want: "incm_99"},
		{name: "Nothing available", rec: Record{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractContractID(tt.rec); got != tt.want {
				t.Errorf("ExtractContractID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractContractEntityNIF(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "Direct field wins",
			rec:  Record{"nifEntidade": "500000000", "adjudicante": []any{"123456789 - Outro"}},
			want: "500000000",
		},
		{
			name: "Composite NIF dash name",
			rec:  Record{"adjudicante": []any{"500000000 - Município de Lisboa"}},
			want: "500000000",
		},
		{
			name: "Composite swapped order",
			rec:  Record{"adjudicante": []any{"Município de Lisboa - 500000000"}},
			want: "500000000",
		},
		{
			name: "Composite with invalid NIF",
			rec:  Record{"adjudicante": []any{"999999999 - Fantasma"}},
			want: "",
		},
		{
			name: "Empty list",
			rec:  Record{"adjudicante": []any{}},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractContractEntityNIF(tt.rec); got != tt.want {
				t.Errorf("ExtractContractEntityNIF = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractContractSupplier(t *testing.T) {
	rec := Record{"adjudicatarios": []any{"123456789 - Empresa Fornecedora, Lda"}}
	if got := ExtractContractSupplierNIF(rec); got != "123456789" {
		t.Errorf("supplier NIF = %q", got)
	}
	if got := ExtractContractSupplierName(rec); got != "Empresa Fornecedora, Lda" {
		t.Errorf("supplier name = %q", got)
	}
}

func TestParseDurationMonths(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int
		isNil bool
	}{
		{name: "Years", input: "2 anos", want: 24},
		{name: "Single year", input: "1 ano", want: 12},
		{name: "Months", input: "18 meses", want: 18},
		{name: "Accented month", input: "1 mês", want: 1},
		{name: "Days round down", input: "90 dias", want: 3},
		{name: "Days floor at one month", input: "10 dias", want: 1},
		{name: "Weeks", input: "6 semanas", want: 1},
		{name: "Unitless string", input: "12", want: 12},
		{name: "Numeric input", input: float64(6), want: 6},
		{name: "No number", input: "indeterminado", isNil: true},
		{name: "Empty", input: "", isNil: true},
		{name: "Nil", input: nil, isNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDurationMonths(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("ParseDurationMonths(%v) = %d, want nil", tt.input, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseDurationMonths(%v) = nil, want %d", tt.input, tt.want)
			}
			if *got != tt.want {
				t.Errorf("ParseDurationMonths(%v) = %d, want %d", tt.input, *got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "Plain text untouched", input: "Fornecimento de bens", want: "Fornecimento de bens"},
		{name: "Tags removed", input: "<p>Fornecimento</p>", want: "Fornecimento"},
		{name: "Nested markup", input: "<div><b>Obras</b> de reabilitação</div>", want: "Obras de reabilitação"},
		{name: "Empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.input); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
