package backup

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// Section names in the order they are written
var sectionOrder = []string{
	CollectionUsers,
	CollectionTrips,
	CollectionMessages,
	CollectionLocation,
	CollectionSettings,
	"media",
}

// restorableSections are replayed into the collection of the same name
var restorableSections = []string{
	CollectionUsers,
	CollectionTrips,
	CollectionMessages,
	CollectionLocation,
	CollectionSettings,
}

// userCSVColumns is the console's user export layout: header and source field
var userCSVColumns = []struct {
	header string
	field  string
}{
	{"ID", "id"},
	{"Email", "email"},
	{"First Name", "firstName"},
	{"Last Name", "lastName"},
	{"Role", "role"},
	{"Phone", "phoneNumber"},
	{"Student ID", "studentId"},
	{"Course", "course"},
	{"Section", "section"},
	{"Year Level", "yearLevel"},
	{"Department", "department"},
	{"Specialization", "specialization"},
	{"Created At", "createdAt"},
	{"Last Login", "lastLogin"},
}

// Payload is the content of one backup blob: a metadata envelope plus named
// sections of entities
type Payload struct {
	Metadata *Metadata
	Sections map[string][]Entity
}

// NewPayload creates an empty payload with the given envelope
func NewPayload(metadata *Metadata) *Payload {
	return &Payload{
		Metadata: metadata,
		Sections: make(map[string][]Entity),
	}
}

// Section returns the named section and whether it is present
func (p *Payload) Section(name string) ([]Entity, bool) {
	entities, ok := p.Sections[name]
	return entities, ok
}

// RestorableCounts returns the entity count of every section a restore
// would write
func (p *Payload) RestorableCounts() map[string]int {
	counts := make(map[string]int)
	for _, name := range restorableSections {
		if entities, ok := p.Sections[name]; ok {
			counts[name] = len(entities)
		}
	}
	return counts
}

// SetSection stores a section; nil is stored as an empty list
func (p *Payload) SetSection(name string, entities []Entity) {
	if p.Sections == nil {
		p.Sections = make(map[string][]Entity)
	}
	if entities == nil {
		entities = []Entity{}
	}
	p.Sections[name] = entities
}

// MarshalJSON writes metadata first and sections in a fixed order
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	write := func(key string, value interface{}) error {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(strconv.Quote(key))
		buf.WriteByte(':')
		buf.Write(encoded)
		return nil
	}

	if p.Metadata != nil {
		if err := write("metadata", p.Metadata); err != nil {
			return nil, err
		}
	}
	for _, name := range sectionOrder {
		if entities, ok := p.Sections[name]; ok {
			if err := write(name, entities); err != nil {
				return nil, err
			}
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts known sections only. A settings section written as a
// single object is read as the system entity.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Metadata = nil
	p.Sections = make(map[string][]Entity)

	if rawMeta, ok := raw["metadata"]; ok && !isJSONNull(rawMeta) {
		var metadata Metadata
		if err := json.Unmarshal(rawMeta, &metadata); err != nil {
			return fmt.Errorf("invalid metadata: %w", err)
		}
		p.Metadata = &metadata
	}

	for _, name := range sectionOrder {
		rawSection, ok := raw[name]
		if !ok || isJSONNull(rawSection) {
			continue
		}

		if name == CollectionSettings && bytes.HasPrefix(bytes.TrimSpace(rawSection), []byte("{")) {
			entity, err := decodeEntity(rawSection)
			if err != nil {
				return fmt.Errorf("invalid settings section: %w", err)
			}
			if _, ok := entity["id"]; !ok {
				entity["id"] = SettingsDocumentID
			}
			p.Sections[name] = []Entity{entity}
			continue
		}

		var items []json.RawMessage
		if err := json.Unmarshal(rawSection, &items); err != nil {
			return fmt.Errorf("section %s is not a list: %w", name, err)
		}
		entities := make([]Entity, 0, len(items))
		for i, item := range items {
			entity, err := decodeEntity(item)
			if err != nil {
				return fmt.Errorf("section %s entry %d: %w", name, i, err)
			}
			entities = append(entities, entity)
		}
		p.Sections[name] = entities
	}
	return nil
}

func decodeEntity(raw json.RawMessage) (Entity, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var entity map[string]interface{}
	if err := decoder.Decode(&entity); err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("entity is not an object")
	}
	return entity, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// EncodePayload serializes p. JSON is indented; CSV is the user export and
// requires a users section.
func EncodePayload(p *Payload, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, NewInvalidFormatError("failed to serialize payload", err)
		}
		return data, nil
	case FormatCSV:
		users, ok := p.Section(CollectionUsers)
		if !ok {
			return nil, NewValidationError("csv format requires a users section", nil)
		}
		return encodeUsersCSV(users)
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported format: %s", format), nil)
	}
}

func encodeUsersCSV(users []Entity) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(userCSVColumns))
	for i, col := range userCSVColumns {
		header[i] = col.header
	}
	if err := w.Write(header); err != nil {
		return nil, NewInvalidFormatError("failed to write csv header", err)
	}

	for _, user := range users {
		row := make([]string, len(userCSVColumns))
		for i, col := range userCSVColumns {
			row[i] = csvField(user[col.field])
		}
		if err := w.Write(row); err != nil {
			return nil, NewInvalidFormatError("failed to write csv row", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, NewInvalidFormatError("failed to flush csv", err)
	}
	return buf.Bytes(), nil
}

func csvField(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// ParsePayload decodes a JSON payload. CSV exports and other non-JSON input
// are rejected with INVALID_FORMAT.
func ParsePayload(data []byte) (*Payload, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil, NewInvalidFormatError("backup file is not a JSON payload", nil)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, NewInvalidFormatError("failed to parse backup payload", err)
	}
	return &payload, nil
}
