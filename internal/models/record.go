package models

// Record is one normalized row from an uploaded record set. Ingestion is an
// external collaborator; the engine only ever sees records in this shape.
type Record struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Field returns the named field value, or "" when absent.
func (r Record) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}
