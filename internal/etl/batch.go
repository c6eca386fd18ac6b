package etl

import (
	"errors"
	"fmt"
)

// ErrUnknownRecordType is returned by ValidateBatch before any record is
// touched when the caller names a type the pipeline does not know.
var ErrUnknownRecordType = errors.New("unknown record type")

// InvalidRecord pairs a rejected raw record with the reasons it was
// rejected, for the audit file written alongside each run.
type InvalidRecord struct {
	Record Record   `json:"record"`
	Errors []string `json:"errors"`
}

type recordValidator func(Record) []string

var batchValidators = map[string]recordValidator{
	"announcements": ValidateAnnouncement,
	"contracts":     ValidateContract,
	"entities":      ValidateEntity,
}

// ValidateBatch partitions a batch into loadable records and rejected
// ones. Every record is validated; one bad record never stops the rest.
// Modifications have no validator of their own — their integrity check
// is resolving the parent contract at load time — so they pass through
// untouched.
func ValidateBatch(records []Record, recordType string) ([]Record, []InvalidRecord, error) {
	if recordType == "modifications" {
		return records, nil, nil
	}
	validate, ok := batchValidators[recordType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, recordType)
	}

	valid := make([]Record, 0, len(records))
	var invalid []InvalidRecord
	for _, rec := range records {
		if errs := validate(rec); len(errs) > 0 {
			invalid = append(invalid, InvalidRecord{Record: rec, Errors: errs})
			continue
		}
		valid = append(valid, rec)
	}
	return valid, invalid, nil
}
