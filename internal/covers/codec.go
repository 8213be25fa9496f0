package covers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/posterwall/backend/internal/models"
)

// DecodeList parses a JSON array whose every element is an object.
func DecodeList(data []byte) ([]models.CoverRecord, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImport, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: null", ErrImport)
	}

	records := make([]models.CoverRecord, 0, len(raw))
	for i, elem := range raw {
		if !bytes.HasPrefix(bytes.TrimSpace(elem), []byte("{")) {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrImport, i)
		}
		var rec models.CoverRecord
		if err := json.Unmarshal(elem, &rec); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrImport, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarshalPretty renders records the way the export file and metadata.json are
// written: two-space indentation, non-ASCII kept as is.
func MarshalPretty(records []models.CoverRecord) ([]byte, error) {
	if records == nil {
		records = []models.CoverRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// assignIDs gives every record a unique id, generating one where an id is
// missing or repeats an earlier record's. It reports how many were generated.
func assignIDs(records []models.CoverRecord, newID func() string) int {
	if newID == nil {
		newID = uuid.NewString
	}
	seen := make(map[models.RecordID]struct{}, len(records))
	generated := 0
	for i := range records {
		id := records[i].ID
		if _, dup := seen[id]; id == "" || dup {
			id = models.RecordID(newID())
			records[i].ID = id
			generated++
		}
		seen[id] = struct{}{}
	}
	return generated
}

func cloneRecords(records []models.CoverRecord) []models.CoverRecord {
	out := make([]models.CoverRecord, len(records))
	copy(out, records)
	return out
}
