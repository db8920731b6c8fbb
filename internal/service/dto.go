package service

// PreflightSample shows how one scanned candidate was classified
type PreflightSample struct {
	Number      string   `json:"number"`
	Name        string   `json:"name"`
	Group       string   `json:"group_detected"`
	Published   bool     `json:"i_nettbutikk"`
	PublishRaw  string   `json:"i_raw_value,omitempty"`
	FieldKeys   []string `json:"i_custom_keys"`
	LookupError string   `json:"lookup_error,omitempty"`
}

// PreflightReport is the dry-run eligibility result over the first pages of the source
type PreflightReport struct {
	Scanned    int               `json:"scanned"`
	Candidates int               `json:"candidates"`
	Kept       int               `json:"kept"`
	Counts     map[string]int    `json:"counts"`
	Samples    []PreflightSample `json:"samples"`
	DurationMS int64             `json:"duration_ms"`
}

// SyncAccepted is returned when a run was started without waiting for it
type SyncAccepted struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// IndexRebuildResult reports a full identifier index rebuild
type IndexRebuildResult struct {
	Entries int `json:"entries"`
}
