package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus reports the state of the store, the snapshot cache and
// the upstream sensor feeds.
type SystemStatus struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Subsystems []SubsystemStatus `json:"subsystems"`
	Providers  []ProviderStatus  `json:"providers"`
	Snapshot   SnapshotStatus    `json:"snapshot"`
}

// SubsystemStatus represents the status of a subsystem.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus represents the status of an upstream sensor feed.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// SnapshotStatus describes the cached sensor snapshot.
type SnapshotStatus struct {
	Loaded    bool       `json:"loaded"`
	LoadedAt  *Timestamp `json:"loadedAt,omitempty"`
	ExpiresAt *Timestamp `json:"expiresAt,omitempty"`
	Stale     bool       `json:"stale"`
	Sensors   int        `json:"sensors"`
	Readings  int        `json:"readings"`
}
