package etl

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/contrap/basegov-etl/internal/models"
)

// Storage is the persistence surface the processor loads into. The
// db package implements it over Postgres; tests implement it in memory.
type Storage interface {
	// InRecordTx runs fn inside a transaction and commits iff fn
	// returns nil. Every top-level record is loaded through one call so
	// a failure rolls back that record's writes and nothing else.
	InRecordTx(ctx context.Context, fn func(tx Storage) error) error

	UpsertEntity(ctx context.Context, e models.Entity) (int64, error)
	UpsertAnnouncement(ctx context.Context, a models.Announcement) (int64, error)
	UpsertContract(ctx context.Context, c models.Contract) (int64, error)
	InsertModification(ctx context.Context, m models.ContractModification) (int64, error)
	UpdateContractValue(ctx context.Context, contractID int64, value float64) error

	FindAnnouncementID(ctx context.Context, externalID string) (int64, bool, error)
	FindContractID(ctx context.Context, externalID string) (int64, bool, error)

	UpsertCPVCode(ctx context.Context, cpv models.CPVCode) error
	LinkAnnouncementCPV(ctx context.Context, announcementID int64, code string) error
	LinkContractCPV(ctx context.Context, contractID int64, code string) error
	LinkContractCompetitor(ctx context.Context, contractID, entityID int64) error
}

// Processor loads validated records, resolving cross-references and
// skipping duplicates within its lifetime. Build a fresh one per
// pipeline run: the duplicate sets are instance state and must not leak
// across runs.
type Processor struct {
	store Storage

	seenEntities      map[string]struct{}
	seenAnnouncements map[string]struct{}
	seenContracts     map[string]struct{}
}

func NewProcessor(store Storage) *Processor {
	return &Processor{
		store:             store,
		seenEntities:      make(map[string]struct{}),
		seenAnnouncements: make(map[string]struct{}),
		seenContracts:     make(map[string]struct{}),
	}
}

// Batch groups the validated records of one load pass by type.
type Batch struct {
	Entities      []Record
	Announcements []Record
	Contracts     []Record
	Modifications []Record
}

// BatchResult counts what a load pass did. Skips (duplicates, missing
// identifiers, unresolvable modification parents) are not errors; only
// failed resolutions and failed writes count as errors.
type BatchResult struct {
	Entities      int
	Announcements int
	Contracts     int
	Modifications int
	Errors        int
}

func (r BatchResult) Total() int {
	return r.Entities + r.Announcements + r.Contracts + r.Modifications
}

// ProcessBatch loads a batch in dependency order: entities first, then
// announcements, contracts, and modifications, so references resolve
// against rows already written. Each record gets its own transaction.
func (p *Processor) ProcessBatch(ctx context.Context, batch Batch) BatchResult {
	var result BatchResult

	for _, rec := range batch.Entities {
		loaded, err := p.processOne(ctx, rec, p.processEntity)
		p.tally(&result.Entities, &result.Errors, loaded, err, "entity")
	}
	for _, rec := range batch.Announcements {
		loaded, err := p.processOne(ctx, rec, p.processAnnouncement)
		p.tally(&result.Announcements, &result.Errors, loaded, err, "announcement")
	}
	for _, rec := range batch.Contracts {
		loaded, err := p.processOne(ctx, rec, p.processContract)
		p.tally(&result.Contracts, &result.Errors, loaded, err, "contract")
	}
	for _, rec := range batch.Modifications {
		loaded, err := p.processOne(ctx, rec, p.processModification)
		p.tally(&result.Modifications, &result.Errors, loaded, err, "modification")
	}

	return result
}

func (p *Processor) processOne(ctx context.Context, rec Record, load func(context.Context, Storage, Record) (bool, error)) (bool, error) {
	var loaded bool
	err := p.store.InRecordTx(ctx, func(tx Storage) error {
		var err error
		loaded, err = load(ctx, tx, rec)
		return err
	})
	return loaded, err
}

func (p *Processor) tally(processed, errors *int, loaded bool, err error, kind string) {
	if err != nil {
		log.Printf("failed to process %s: %v", kind, err)
		*errors++
		return
	}
	if loaded {
		*processed++
	}
}

// processEntity loads one standalone entity record. Duplicate NIFs
// within the run are skipped; the upsert itself is idempotent anyway.
func (p *Processor) processEntity(ctx context.Context, tx Storage, raw Record) (bool, error) {
	rec := CleanNullValues(raw)

	nif, ok := ValidateNIF(ExtractEntityNIF(rec))
	if !ok {
		log.Printf("skipping entity with invalid NIF %q", ExtractEntityNIF(rec))
		return false, nil
	}
	if _, dup := p.seenEntities[nif]; dup {
		return false, nil
	}

	norm := NormalizeFieldNames(rec, EntityFieldMap)
	entity := models.Entity{
		NIF:        nif,
		Name:       strPtr(norm, "name"),
		Address:    strPtr(norm, "address"),
		PostalCode: strPtr(norm, "postal_code"),
		City:       strPtr(norm, "city"),
		Country:    strPtr(norm, "country"),
		Email:      strPtr(norm, "email"),
		Phone:      strPtr(norm, "phone"),
		Website:    strPtr(norm, "website"),
		EntityType: strPtr(norm, "entity_type"),
	}

	if _, err := tx.UpsertEntity(ctx, entity); err != nil {
		return false, fmt.Errorf("upsert entity %s: %w", nif, err)
	}
	p.seenEntities[nif] = struct{}{}
	return true, nil
}

// resolveEntity upserts a referenced entity and returns its row ID. It
// runs outside the duplicate set: a reference must always yield an ID,
// and repeated upserts only enrich the row via COALESCE merging.
func (p *Processor) resolveEntity(ctx context.Context, tx Storage, rawNIF, name string) (int64, error) {
	nif, ok := ValidateNIF(rawNIF)
	if !ok {
		return 0, fmt.Errorf("invalid NIF %q", rawNIF)
	}
	entity := models.Entity{NIF: nif}
	if name = strings.TrimSpace(name); name != "" {
		entity.Name = &name
	}
	id, err := tx.UpsertEntity(ctx, entity)
	if err != nil {
		return 0, fmt.Errorf("upsert entity %s: %w", nif, err)
	}
	p.seenEntities[nif] = struct{}{}
	return id, nil
}

func (p *Processor) processAnnouncement(ctx context.Context, tx Storage, raw Record) (bool, error) {
	rec := CleanNullValues(raw)

	externalID := ExtractAnnouncementID(rec)
	if externalID == "" {
		log.Printf("skipping announcement without identifier")
		return false, nil
	}
	if _, dup := p.seenAnnouncements[externalID]; dup {
		return false, nil
	}
	if errs := ValidateAnnouncement(rec); len(errs) > 0 {
		log.Printf("skipping announcement %s: %v", externalID, errs)
		return false, nil
	}

	norm := NormalizeFieldNames(rec, AnnouncementFieldMap)

	var entityID *int64
	if nif := ExtractEntityNIF(rec); nif != "" {
		id, err := p.resolveEntity(ctx, tx, nif, asString(norm["entity_name"]))
		if err != nil {
			return false, fmt.Errorf("announcement %s: resolve entity: %w", externalID, err)
		}
		entityID = &id
	}

	ann := models.Announcement{
		ExternalID:    externalID,
		EntityID:      entityID,
		Title:         sanitizeText(firstStrPtr(norm, "title", "description")),
		Description:   sanitizeText(strPtr(norm, "description")),
		ProcedureType: strPtr(norm, "procedure_type"),
		URL:           strPtr(norm, "url"),
		Reference:     strPtr(norm, "reference"),
		Location:      joinedStrPtr(norm["location"]),
		NutsCode:      strPtr(norm, "nuts_code"),
	}

	if ct, ok := NormalizeContractType(firstListEntry(firstRaw(norm, "contract_types", "contract_type"))); ok {
		ann.ContractType = &ct
	}
	if v, ok := NormalizeAmount(norm["base_price"]); ok {
		ann.BasePrice = &v
	}
	if t, ok := NormalizeDate(norm["publication_date"]); ok {
		ann.PublicationDate = &t
	}
	if t, ok := NormalizeDate(norm["opening_date"]); ok {
		ann.OpeningDate = &t
	}
	if t, ok := NormalizeDate(norm["submission_deadline"]); ok {
		ann.SubmissionDeadline = &t
	} else if days, ok := parseDayCount(norm["proposal_deadline_days"]); ok && ann.PublicationDate != nil {
		deadline := ann.PublicationDate.AddDate(0, 0, days)
		ann.SubmissionDeadline = &deadline
	}
	ann.DurationMonths = ParseDurationMonths(norm["duration"])
	ann.IsFramework = boolVal(norm["is_framework"])
	ann.IsDynamicPurchase = boolVal(norm["is_dynamic_purchasing"])
	ann.AllowsESubmission = boolVal(norm["allows_electronic_submission"])
	ann.RequireESubmission = boolVal(norm["requires_electronic_submission"])
	if status := strPtr(norm, "status"); status != nil {
		ann.Status = status
	} else {
		active := "active"
		ann.Status = &active
	}

	id, err := tx.UpsertAnnouncement(ctx, ann)
	if err != nil {
		return false, fmt.Errorf("upsert announcement %s: %w", externalID, err)
	}

	if err := p.linkCPVs(ctx, norm["cpv_codes"], func(code string) error {
		return tx.LinkAnnouncementCPV(ctx, id, code)
	}, tx); err != nil {
		return false, fmt.Errorf("announcement %s: %w", externalID, err)
	}

	p.seenAnnouncements[externalID] = struct{}{}
	return true, nil
}

func (p *Processor) processContract(ctx context.Context, tx Storage, raw Record) (bool, error) {
	rec := CleanNullValues(raw)

	externalID := ExtractContractID(rec)
	if externalID == "" {
		log.Printf("skipping contract without identifier")
		return false, nil
	}
	if _, dup := p.seenContracts[externalID]; dup {
		return false, nil
	}
	if errs := ValidateContract(rec); len(errs) > 0 {
		log.Printf("skipping contract %s: %v", externalID, errs)
		return false, nil
	}

	norm := NormalizeFieldNames(rec, ContractFieldMap)

	authorityNIF := ExtractContractEntityNIF(rec)
	if authorityNIF == "" {
		log.Printf("skipping contract %s without contracting authority", externalID)
		return false, nil
	}
	entityID, err := p.resolveEntity(ctx, tx, authorityNIF, ExtractContractEntityName(rec))
	if err != nil {
		return false, fmt.Errorf("contract %s: resolve authority: %w", externalID, err)
	}

	var supplierID *int64
	if nif := ExtractContractSupplierNIF(rec); nif != "" {
		id, err := p.resolveEntity(ctx, tx, nif, ExtractContractSupplierName(rec))
		if err != nil {
			return false, fmt.Errorf("contract %s: resolve supplier: %w", externalID, err)
		}
		supplierID = &id
	}

	// The announcement link is best effort: contracts routinely arrive
	// before or without their announcement.
	var announcementID *int64
	if ref := asString(norm["announcement_ref"]); ref != "" {
		id, found, err := tx.FindAnnouncementID(ctx, ref)
		if err != nil {
			return false, fmt.Errorf("contract %s: look up announcement %s: %w", externalID, ref, err)
		}
		if found {
			announcementID = &id
		}
	}

	contract := models.Contract{
		ExternalID:     externalID,
		AnnouncementID: announcementID,
		EntityID:       &entityID,
		SupplierID:     supplierID,
		Title:          sanitizeText(strPtr(norm, "title")),
		Description:    sanitizeText(strPtr(norm, "description")),
		ProcedureType:  strPtr(norm, "procedure_type"),
		URL:            strPtr(norm, "url"),
		Reference:      strPtr(norm, "reference"),
		Location:       joinedStrPtr(norm["location"]),
		NutsCode:       strPtr(norm, "nuts_code"),
		Observations:   sanitizeText(strPtr(norm, "observations")),
		Justification:  strPtr(norm, "justification"),
	}

	if ct, ok := NormalizeContractType(firstListEntry(firstRaw(norm, "contract_types", "contract_type"))); ok {
		contract.ContractType = &ct
	}
	if v, ok := NormalizeAmount(norm["contract_value"]); ok {
		contract.ContractValue = &v
	}
	if t, ok := NormalizeDate(norm["publication_date"]); ok {
		contract.PublicationDate = &t
	}
	if t, ok := NormalizeDate(norm["signature_date"]); ok {
		contract.SignatureDate = &t
	}
	if t, ok := NormalizeDate(norm["start_date"]); ok {
		contract.StartDate = &t
	}
	if t, ok := NormalizeDate(norm["end_date"]); ok {
		contract.EndDate = &t
	}
	contract.DurationMonths = ParseDurationMonths(norm["duration"])
	contract.IsFramework = boolVal(norm["is_framework"])
	if status := strPtr(norm, "status"); status != nil {
		contract.Status = status
	}

	id, err := tx.UpsertContract(ctx, contract)
	if err != nil {
		return false, fmt.Errorf("upsert contract %s: %w", externalID, err)
	}

	if err := p.linkCPVs(ctx, norm["cpv_codes"], func(code string) error {
		return tx.LinkContractCPV(ctx, id, code)
	}, tx); err != nil {
		return false, fmt.Errorf("contract %s: %w", externalID, err)
	}

	// Competitors without a resolvable NIF are kept out of the link
	// table; a name alone cannot be tied to an entity row.
	for _, comp := range ParseCompetitors(norm["competitors"]) {
		if comp.NIF == nil {
			continue
		}
		name := ""
		if comp.Name != nil {
			name = *comp.Name
		}
		compID, err := p.resolveEntity(ctx, tx, *comp.NIF, name)
		if err != nil {
			return false, fmt.Errorf("contract %s: resolve competitor: %w", externalID, err)
		}
		if err := tx.LinkContractCompetitor(ctx, id, compID); err != nil {
			return false, fmt.Errorf("contract %s: link competitor: %w", externalID, err)
		}
	}

	p.seenContracts[externalID] = struct{}{}
	return true, nil
}

// processModification loads a contract modification. A modification
// whose parent contract is unknown is skipped outright: there is nothing
// meaningful to attach it to.
func (p *Processor) processModification(ctx context.Context, tx Storage, raw Record) (bool, error) {
	rec := CleanNullValues(raw)

	contractRef := firstPresent(rec, "idContrato", "id_contrato", "idcontrato", "nContrato")
	if contractRef == "" {
		log.Printf("skipping modification without contract reference")
		return false, nil
	}
	contractID, found, err := tx.FindContractID(ctx, contractRef)
	if err != nil {
		return false, fmt.Errorf("modification: look up contract %s: %w", contractRef, err)
	}
	if !found {
		log.Printf("skipping modification: contract %s not loaded", contractRef)
		return false, nil
	}

	mod := models.ContractModification{
		ContractID:       contractID,
		ModificationDate: time.Now().UTC(),
	}
	if t, ok := NormalizeDate(firstRaw(rec, "dataModificacao", "data_modificacao", "dataPublicacao")); ok {
		mod.ModificationDate = t
	}
	if s := firstPresent(rec, "tipoModificacao", "tipo_modificacao", "tipo"); s != "" {
		mod.ModificationType = &s
	}
	if s := firstPresent(rec, "descricao", "descricaoModificacao", "desc_modificacao"); s != "" {
		mod.Description = &s
	}
	if v, ok := NormalizeAmount(firstRaw(rec, "valorOriginal", "valor_original", "precoContratualOriginal")); ok {
		mod.OriginalValue = &v
	}
	if v, ok := NormalizeAmount(firstRaw(rec, "novoValor", "valorNovo", "novo_valor", "novoPrecoContratual")); ok {
		mod.NewValue = &v
	}
	if t, ok := NormalizeDate(firstRaw(rec, "prazoOriginal", "prazo_original")); ok {
		mod.OriginalDeadline = &t
	}
	if t, ok := NormalizeDate(firstRaw(rec, "prazoNovo", "novoPrazo", "novo_prazo")); ok {
		mod.NewDeadline = &t
	}
	if s := firstPresent(rec, "fundamentacao", "justificacao"); s != "" {
		mod.Justification = &s
	}

	if _, err := tx.InsertModification(ctx, mod); err != nil {
		return false, fmt.Errorf("insert modification for contract %s: %w", contractRef, err)
	}
	if mod.NewValue != nil {
		if err := tx.UpdateContractValue(ctx, contractID, *mod.NewValue); err != nil {
			return false, fmt.Errorf("update contract %s value: %w", contractRef, err)
		}
	}
	return true, nil
}

func (p *Processor) linkCPVs(ctx context.Context, raw any, link func(code string) error, tx Storage) error {
	for _, cpv := range ExtractCPVCodes(raw) {
		if err := tx.UpsertCPVCode(ctx, cpv); err != nil {
			return fmt.Errorf("upsert cpv %s: %w", cpv.Code, err)
		}
		if err := link(cpv.Code); err != nil {
			return fmt.Errorf("link cpv %s: %w", cpv.Code, err)
		}
	}
	return nil
}

var firstInt = regexp.MustCompile(`\d+`)

// ParseDurationMonths converts a free-form execution period into whole
// months. Values like "2 anos", "18 meses", "45 dias", "3 semanas" and
// bare numbers are understood; day and week counts round down but never
// below one month.
func ParseDurationMonths(raw any) *int {
	switch typed := raw.(type) {
	case nil:
		return nil
	case float64:
		n := int(typed)
		return &n
	case int:
		return &typed
	}

	s := strings.ToLower(asString(raw))
	if s == "" {
		return nil
	}
	match := firstInt.FindString(s)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}

	var months int
	switch {
	case strings.Contains(s, "ano"):
		months = n * 12
	case strings.Contains(s, "dia"):
		months = n / 30
	case strings.Contains(s, "semana"):
		months = n * 7 / 30
	default:
		// "mês", "mes" or a unitless count.
		months = n
	}
	if months < 1 {
		months = 1
	}
	return &months
}

// parseDayCount reads a proposal deadline expressed either as a bare
// number or as "N dias".
func parseDayCount(raw any) (int, bool) {
	switch typed := raw.(type) {
	case float64:
		return int(typed), true
	case int:
		return typed, true
	}
	s := asString(raw)
	if s == "" {
		return 0, false
	}
	match := firstInt.FindString(s)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}

func strPtr(rec Record, key string) *string {
	s := asString(rec[key])
	if s == "" {
		return nil
	}
	return &s
}

func firstStrPtr(rec Record, keys ...string) *string {
	for _, key := range keys {
		if p := strPtr(rec, key); p != nil {
			return p
		}
	}
	return nil
}

// joinedStrPtr renders a location that may arrive as a list of
// districts into a single comma-separated string.
func joinedStrPtr(raw any) *string {
	switch typed := raw.(type) {
	case []any:
		var parts []string
		for _, item := range typed {
			if s := asString(item); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return nil
		}
		joined := strings.Join(parts, ", ")
		return &joined
	default:
		s := asString(raw)
		if s == "" {
			return nil
		}
		return &s
	}
}

func boolVal(raw any) bool {
	switch typed := raw.(type) {
	case bool:
		return typed
	case float64:
		return typed != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(typed))
		return s == "true" || s == "sim" || s == "1" || s == "s"
	default:
		return false
	}
}
