package state

import "path/filepath"

type Paths struct {
	DB        string
	Store     string
	Identity  string
	State     string
	Audit     string
	Retention string
	Journal   string
	Tmp       string
	Tel       string
	Logs      string
}

func PathsFor(dbPath string) Paths {
	statePath := filepath.Join(dbPath, "state")
	return Paths{
		// base
		DB: dbPath,

		// mains
		Store:    filepath.Join(dbPath, "store"),
		Identity: filepath.Join(dbPath, "identity"),

		// state
		State:     statePath,
		Audit:     filepath.Join(statePath, "audit"),
		Retention: filepath.Join(statePath, "retention"),
		Journal:   filepath.Join(statePath, "journal"),
		Tmp:       filepath.Join(statePath, "tmp"),
		Tel:       filepath.Join(statePath, "telemetry"),
		Logs:      filepath.Join(statePath, "logs"),
	}
}

// Convenience helpers
func StorePath(dbPath string) string    { return PathsFor(dbPath).Store }
func IdentityPath(dbPath string) string { return PathsFor(dbPath).Identity }
func AuditPath(dbPath string) string    { return PathsFor(dbPath).Audit }
func TelPath(dbPath string) string      { return PathsFor(dbPath).Tel }
