package models

// Job pairs one input archive with the log file derived from it.
type Job struct {
	Name    string // archive path relative to the input dir, without extension
	Archive string
	Output  string
}
