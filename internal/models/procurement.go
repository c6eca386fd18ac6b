package models

import "time"

// Entity is a legal or organizational party (contracting authority,
// supplier or competitor), keyed by its Portuguese tax ID.
type Entity struct {
	ID         int64      `json:"id"`
	NIF        string     `json:"nif"`
	Name       *string    `json:"name"`
	Address    *string    `json:"address"`
	PostalCode *string    `json:"postal_code"`
	City       *string    `json:"city"`
	Country    *string    `json:"country"`
	Email      *string    `json:"email"`
	Phone      *string    `json:"phone"`
	Website    *string    `json:"website"`
	EntityType *string    `json:"entity_type"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

// Announcement is a procurement notice published on BASE.gov.
type Announcement struct {
	ID                 int64      `json:"id"`
	ExternalID         string     `json:"external_id"`
	EntityID           *int64     `json:"entity_id"`
	Title              *string    `json:"title"`
	Description        *string    `json:"description"`
	ContractType       *string    `json:"contract_type"`
	ProcedureType      *string    `json:"procedure_type"`
	BasePrice          *float64   `json:"base_price"`
	PublicationDate    *time.Time `json:"publication_date"`
	SubmissionDeadline *time.Time `json:"submission_deadline"`
	OpeningDate        *time.Time `json:"opening_date"`
	Status             *string    `json:"status"`
	URL                *string    `json:"url"`
	Reference          *string    `json:"reference"`
	Location           *string    `json:"location"`
	NutsCode           *string    `json:"nuts_code"`
	DurationMonths     *int       `json:"duration_months"`
	IsFramework        bool       `json:"is_framework"`
	IsDynamicPurchase  bool       `json:"is_dynamic_purchasing"`
	AllowsESubmission  bool       `json:"allows_electronic_submission"`
	RequireESubmission bool       `json:"requires_electronic_submission"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at"`
}

// Contract is an awarded contract, optionally linked back to the
// announcement it originated from.
type Contract struct {
	ID              int64      `json:"id"`
	ExternalID      string     `json:"external_id"`
	AnnouncementID  *int64     `json:"announcement_id"`
	EntityID        *int64     `json:"entity_id"`
	SupplierID      *int64     `json:"supplier_id"`
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	ContractType    *string    `json:"contract_type"`
	ProcedureType   *string    `json:"procedure_type"`
	ContractValue   *float64   `json:"contract_value"`
	PublicationDate *time.Time `json:"publication_date"`
	SignatureDate   *time.Time `json:"signature_date"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	Status          *string    `json:"status"`
	URL             *string    `json:"url"`
	Reference       *string    `json:"reference"`
	Location        *string    `json:"location"`
	NutsCode        *string    `json:"nuts_code"`
	DurationMonths  *int       `json:"duration_months"`
	IsFramework     bool       `json:"is_framework"`
	Observations    *string    `json:"observations"`
	Justification   *string    `json:"justification"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

// ContractModification is an amendment to an existing contract. A
// modification that carries a new value also updates the parent
// contract's value.
type ContractModification struct {
	ID               int64      `json:"id"`
	ContractID       int64      `json:"contract_id"`
	ModificationDate time.Time  `json:"modification_date"`
	ModificationType *string    `json:"modification_type"`
	Description      *string    `json:"description"`
	OriginalValue    *float64   `json:"original_value"`
	NewValue         *float64   `json:"new_value"`
	OriginalDeadline *time.Time `json:"original_deadline"`
	NewDeadline      *time.Time `json:"new_deadline"`
	Justification    *string    `json:"justification"`
	CreatedAt        time.Time  `json:"created_at"`
}

// CPVCode is an EU Common Procurement Vocabulary classification code.
type CPVCode struct {
	Code        string  `json:"code"`
	Description *string `json:"description,omitempty"`
}

// Competitor is a party that bid on a contract, optionally resolved to
// an Entity by NIF.
type Competitor struct {
	NIF  *string `json:"nif,omitempty"`
	Name *string `json:"name,omitempty"`
}

// EntityCount pairs an entity with an aggregate used by statistics.
type EntityCount struct {
	Name          string   `json:"name"`
	NIF           string   `json:"nif"`
	ContractCount int      `json:"contract_count"`
	TotalValue    *float64 `json:"total_value,omitempty"`
}

// Statistics summarizes the stored corpus.
type Statistics struct {
	TotalEntities        int            `json:"total_entities"`
	TotalAnnouncements   int            `json:"total_announcements"`
	TotalContracts       int            `json:"total_contracts"`
	TotalModifications   int            `json:"total_modifications"`
	EarliestAnnouncement *time.Time     `json:"earliest_announcement"`
	LatestAnnouncement   *time.Time     `json:"latest_announcement"`
	EarliestContract     *time.Time     `json:"earliest_contract"`
	LatestContract       *time.Time     `json:"latest_contract"`
	TotalContractValue   *float64       `json:"total_contract_value"`
	AverageContractValue *float64       `json:"average_contract_value"`
	MinContractValue     *float64       `json:"min_contract_value"`
	MaxContractValue     *float64       `json:"max_contract_value"`
	TopContractingBodies []EntityCount  `json:"top_contracting_entities"`
	TopSuppliers         []EntityCount  `json:"top_suppliers"`
}

// RunReport is the status record produced by one pipeline execution.
type RunReport struct {
	RunID          string         `json:"run_id"`
	Year           int            `json:"year"`
	Status         string         `json:"status"`
	Error          string         `json:"error,omitempty"`
	StartTime      *time.Time     `json:"start_time"`
	EndTime        *time.Time     `json:"end_time"`
	DurationSecs   float64        `json:"duration_seconds"`
	Fetched        map[string]int `json:"fetched"`
	Validated      map[string]int `json:"validated"`
	Processed      map[string]int `json:"processed"`
	Errors         map[string]int `json:"errors"`
	TotalFetched   int            `json:"total_fetched"`
	TotalValidated int            `json:"total_validated"`
	TotalProcessed int            `json:"total_processed"`
	TotalErrors    int            `json:"total_errors"`
}
