package etl

import (
	"sort"
	"strconv"
	"strings"
)

// Record is one raw row as returned by the BASE.gov API, before any
// cleaning or field-name normalization.
type Record map[string]any

// AnnouncementFieldMap maps the raw API spellings seen on announcement
// records to canonical column names. The API has changed field casing
// and naming across years, so several aliases map to the same key.
var AnnouncementFieldMap = map[string]string{
	"nAnuncio":                     "external_id",
	"IdIncm":                       "api_internal_id",
	"dataPublicacao":               "publication_date",
	"nifEntidade":                  "entity_nif",
	"designacaoEntidade":           "entity_name",
	"descricaoAnuncio":             "description",
	"descricao":                    "description",
	"objetoContrato":               "title",
	"url":                          "url",
	"numDR":                        "dr_number",
	"serie":                        "dr_series",
	"tipoActo":                     "act_type",
	"tiposContrato":                "contract_types",
	"tipoContrato":                 "contract_type",
	"PrecoBase":                    "base_price",
	"precoBase":                    "base_price",
	"valorBase":                    "base_price",
	"CPVs":                         "cpv_codes",
	"cpvs":                         "cpv_codes",
	"modeloAnuncio":                "procedure_type",
	"tipoProcedimento":             "procedure_type",
	"tipoprocedimento":             "procedure_type",
	"Ano":                          "year",
	"CriterAmbient":                "environmental_criteria",
	"PrazoPropostas":               "proposal_deadline_days",
	"prazoPropostas":               "proposal_deadline_days",
	"dataFimProposta":              "submission_deadline",
	"dataAberturaPropostas":        "opening_date",
	"PecasProcedimento":            "procedure_documents",
	"referencia":                   "reference",
	"localExecucao":                "location",
	"codigoNuts":                   "nuts_code",
	"prazoExecucao":                "duration",
	"acordoQuadro":                 "is_framework",
	"sistemaAquisicaoDinamico":     "is_dynamic_purchasing",
	"permitePropostasEletronicas":  "allows_electronic_submission",
	"obrigaPropostasEletronicas":   "requires_electronic_submission",
	"estado":                       "status",
}

// ContractFieldMap covers both the camelCase and snake_case spellings
// the contract endpoint has used over the years.
var ContractFieldMap = map[string]string{
	"idContrato":              "external_id",
	"id_contrato":             "external_id",
	"nContrato":               "external_id",
	"idAnuncio":               "announcement_ref",
	"nAnuncio":                "announcement_ref",
	"n_anuncio":               "announcement_ref",
	"tipo_anuncio":            "announcement_type",
	"id_incm":                 "api_internal_id",
	"idINCM":                  "api_internal_id",
	"id_procedimento":         "procedure_id",
	"tipo_procedimento":       "procedure_type",
	"tipoProcedimento":        "procedure_type",
	"tipoprocedimento":        "procedure_type",
	"objecto_contrato":        "title",
	"objectoContrato":         "title",
	"objetoContrato":          "title",
	"desc_contrato":           "description",
	"descContrato":            "description",
	"descricao":               "description",
	"nifEntidade":             "entity_nif",
	"nif_entidade":            "entity_nif",
	"adjudicante_nif":         "entity_nif",
	"designacaoEntidade":      "entity_name",
	"adjudicante":             "contracting_authority",
	"nifAdjudicatario":        "supplier_nif",
	"nif_adjudicatario":       "supplier_nif",
	"designacaoAdjudicatario": "supplier_name",
	"adjudicatarios":          "suppliers",
	"concorrentes":            "competitors",
	"data_publicacao":         "publication_date",
	"dataPublicacao":          "publication_date",
	"data_celebracao":         "signature_date",
	"dataCelebracaoContrato":  "signature_date",
	"dataInicioExecucao":      "start_date",
	"data_inicio_execucao":    "start_date",
	"dataFimExecucao":         "end_date",
	"data_fim_execucao":       "end_date",
	"preco_contratual":        "contract_value",
	"precoContratual":         "contract_value",
	"valorAdjudicacao":        "contract_value",
	"valor_adjudicacao":       "contract_value",
	"prazo_execucao":          "duration",
	"prazoExecucao":           "duration",
	"local_execucao":          "location",
	"localExecucao":           "location",
	"fundamentacao":           "justification",
	"referencia":              "reference",
	"procedimento_centralizado": "is_centralized",
	"num_acordo_quadro":       "framework_agreement_number",
	"acordoQuadro":            "is_framework",
	"tipoContrato":            "contract_type",
	"tipo_contrato":           "contract_type",
	"tiposContrato":           "contract_types",
	"cpv":                     "cpv_codes",
	"cpvs":                    "cpv_codes",
	"CPVs":                    "cpv_codes",
	"observacoes":             "observations",
	"url":                     "url",
	"estado":                  "status",
	"codigoNuts":              "nuts_code",
	"codigo_nuts":             "nuts_code",
}

// EntityFieldMap maps entity record spellings.
var EntityFieldMap = map[string]string{
	"nif":           "nif",
	"designacao":    "name",
	"nome":          "name",
	"morada":        "address",
	"endereco":      "address",
	"codigoPostal":  "postal_code",
	"codigo_postal": "postal_code",
	"localidade":    "city",
	"cidade":        "city",
	"pais":          "country",
	"email":         "email",
	"telefone":      "phone",
	"website":       "website",
	"site":          "website",
	"tipoEntidade":  "entity_type",
	"tipo_entidade": "entity_type",
}

// NormalizeFieldNames rewrites every recognized alias in rec to its
// canonical key. Unrecognized keys pass through unchanged so no data is
// lost. When two aliases of the same canonical key are both present the
// first non-nil value wins, with keys visited in sorted order so the
// outcome is deterministic.
func NormalizeFieldNames(rec Record, fieldMap map[string]string) Record {
	normalized := make(Record, len(rec))

	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := rec[key]
		canonical, ok := fieldMap[key]
		if !ok {
			normalized[key] = value
			continue
		}
		if existing, present := normalized[canonical]; present && existing != nil {
			continue
		}
		normalized[canonical] = value
	}

	return normalized
}

// firstPresent returns the first candidate key present in rec with a
// non-empty value, as a string.
func firstPresent(rec Record, candidates ...string) string {
	for _, key := range candidates {
		if v, ok := rec[key]; ok {
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// ExtractAnnouncementID derives the announcement's business identifier,
// synthesizing an "incm_" fallback from the API-internal ID when no
// business key is present.
func ExtractAnnouncementID(rec Record) string {
	if id := firstPresent(rec, "nAnuncio", "idAnuncio", "id_anuncio", "numeroAnuncio"); id != "" {
		return id
	}
	if v := asString(rec["IdIncm"]); v != "" {
		return "incm_" + v
	}
	return ""
}

// ExtractContractID derives the contract's business identifier.
func ExtractContractID(rec Record) string {
	if id := firstPresent(rec, "idContrato", "idcontrato", "id_contrato", "nContrato", "numeroContrato"); id != "" {
		return id
	}
	if v := asString(rec["idINCM"]); v != "" {
		return "incm_" + v
	}
	return ""
}

// ExtractEntityNIF returns the entity tax ID from any of its raw
// spellings, unvalidated.
func ExtractEntityNIF(rec Record) string {
	return firstPresent(rec, "nif", "nifEntidade", "nif_entidade", "NIF")
}

// ExtractEntityName returns the entity designation from any of its raw
// spellings.
func ExtractEntityName(rec Record) string {
	return firstPresent(rec, "designacao", "designacaoEntidade", "nome", "name")
}

// ExtractContractEntityNIF finds the contracting authority's NIF,
// either from a direct field or embedded in the composite
// "NIF - Name" adjudicante list.
func ExtractContractEntityNIF(rec Record) string {
	if nif := ExtractEntityNIF(rec); nif != "" {
		return nif
	}
	nif, _ := parseCompositeParty(firstListEntry(rec["adjudicante"]))
	return nif
}

// ExtractContractEntityName finds the contracting authority's name from
// the composite adjudicante field or the plain designation field.
func ExtractContractEntityName(rec Record) string {
	if _, name := parseCompositeParty(firstListEntry(rec["adjudicante"])); name != "" {
		return name
	}
	return asString(rec["designacaoEntidade"])
}

// ExtractContractSupplierNIF finds the awarded supplier's NIF, either
// direct or embedded in the composite adjudicatarios list.
func ExtractContractSupplierNIF(rec Record) string {
	if v := asString(rec["nifAdjudicatario"]); v != "" {
		return v
	}
	nif, _ := parseCompositeParty(firstListEntry(rec["adjudicatarios"]))
	return nif
}

// ExtractContractSupplierName finds the awarded supplier's name.
func ExtractContractSupplierName(rec Record) string {
	if _, name := parseCompositeParty(firstListEntry(rec["adjudicatarios"])); name != "" {
		return name
	}
	return asString(rec["designacaoAdjudicatario"])
}

// parseCompositeParty splits a "NIF - Name" composite string. The NIF
// segment must pass checksum validation to be accepted; when the left
// segment fails, the segments are tried in swapped order ("Name - NIF").
func parseCompositeParty(s string) (nif string, name string) {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "-") {
		return "", ""
	}

	parts := strings.SplitN(s, "-", 2)
	left := strings.TrimSpace(parts[0])
	right := ""
	if len(parts) > 1 {
		right = strings.TrimSpace(parts[1])
	}

	if clean, ok := ValidateNIF(left); ok {
		return clean, right
	}
	if clean, ok := ValidateNIF(right); ok {
		return clean, left
	}
	return "", ""
}

// firstListEntry returns the first element of a raw list value, or the
// value itself when the API sent a bare scalar instead of a list.
func firstListEntry(v any) string {
	switch typed := v.(type) {
	case []any:
		if len(typed) == 0 {
			return ""
		}
		return asString(typed[0])
	case []string:
		if len(typed) == 0 {
			return ""
		}
		return typed[0]
	default:
		return asString(v)
	}
}

// asString renders a raw JSON scalar as a string. Numeric identifiers
// arrive as float64 from encoding/json and must not grow a decimal
// point.
func asString(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}
