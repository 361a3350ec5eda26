package models

// Zone is a single intrusion detection input.
// State: 0 normal, 1 active. Entree: 1 closed, 0 open. -1 means the panel
// label could not be mapped and the field must not be published.
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
	Entree int    `json:"entree"`
	State  int    `json:"state"`
}

// Sector is an armable grouping of zones. ID "0" is the synthetic
// "Tous Secteurs" row covering the whole panel.
// State: 0 disarmed, 1 armed total, 2 armed partial A, 3 armed partial B,
// 4 in alarm.
type Sector struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State int    `json:"state"`
}

// Door is an access-controlled opening.
// State: 0 normal/locked, 1 unlocked, 4 in alarm. DRS is the release-button
// state (0/1) and DPS the position contact (0..4).
type Door struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Zone   string `json:"zone"`
	Sector string `json:"sector"`
	State  int    `json:"state"`
	DRS    int    `json:"drs"`
	DPS    int    `json:"dps"`
}

// Output is a switchable panel output. State: 1 on, 0 off, -1 unknown.
// StateTxt keeps the raw panel label.
type Output struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    int    `json:"state"`
	StateTxt string `json:"state_txt"`
}

// ControllerEntry is one (section, label) → value cell of the
// controller-status page.
type ControllerEntry struct {
	Section string `json:"section"`
	Label   string `json:"label"`
	Value   string `json:"value"`
}

// PanelState is the result of one fast scan. Entities are rebuilt on every
// scan and never persisted.
type PanelState struct {
	Zones   []Zone   `json:"zones"`
	Sectors []Sector `json:"sectors"`
	Doors   []Door   `json:"doors,omitempty"`
	Outputs []Output `json:"outputs,omitempty"`
}
