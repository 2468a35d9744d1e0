package model

const StatusStarted = "Recon + Scan started"

// RunRequest asks for a pipeline run. URL is an optional discovery seed.
type RunRequest struct {
	Domain string `json:"domain"`
	URL    string `json:"url,omitempty"`
}

// Validate checks the domain is present. Its value is passed to the tools
// as is.
func (r RunRequest) Validate() error {
	if r.Domain == "" {
		return ErrDomainRequired
	}
	return nil
}

type RunResult struct {
	RunID     string
	Status    string
	InputPath string
	Session   Session
}
