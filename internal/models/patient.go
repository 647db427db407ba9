package models

// DHPDocument is the hard/soft profile document exchanged with
// callers. The json tags are the single mapping between the external
// field names and the internal attributes; nothing else in the module
// depends on the external spellings.
type DHPDocument struct {
	Hard HardData `json:"hard"`
	Soft string   `json:"soft"`
}

// HardData structured part of the DHP
type HardData struct {
	Alias       string `json:"Patient Alias"`
	Procedure   string `json:"Patient's Procedure Performed or Non-Surgical Pathology"`
	LastUpdated string `json:"Time of most recent update"`
}

// PlanDocument treatment-plan document (arbitrary JSON object).
// An empty document is treated as "no plan set".
type PlanDocument map[string]interface{}

// DHPSnapshot is the stored shape of one DHP version. The patient
// alias is not part of the snapshot, it is the identity the snapshot
// belongs to.
type DHPSnapshot struct {
	Procedure   string
	LastUpdated string
	SoftData    string
}

// Snapshot extracts the versioned fields from a document
func (d *DHPDocument) Snapshot() DHPSnapshot {
	return DHPSnapshot{
		Procedure:   d.Hard.Procedure,
		LastUpdated: d.Hard.LastUpdated,
		SoftData:    d.Soft,
	}
}

// NewDHPDocument rebuilds the external document from a stored snapshot
func NewDHPDocument(patientName string, snap DHPSnapshot) *DHPDocument {
	return &DHPDocument{
		Hard: HardData{
			Alias:       patientName,
			Procedure:   snap.Procedure,
			LastUpdated: snap.LastUpdated,
		},
		Soft: snap.SoftData,
	}
}
