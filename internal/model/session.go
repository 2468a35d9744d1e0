package model

import "path/filepath"

// Session is the domain and working folder of the most recent run. Folder
// is relative to the pipeline base directory.
type Session struct {
	Domain string `json:"domain"`
	Folder string `json:"folder"`
}

func NewSession(domain string) Session {
	return Session{
		Domain: domain,
		Folder: WorkingFolder(domain),
	}
}

// Dir returns the session folder joined to baseDir.
func (s Session) Dir(baseDir string) string {
	return filepath.Join(baseDir, s.Folder)
}

// WorkingFolder returns the per-domain folder the discovery tool writes into.
func WorkingFolder(domain string) string {
	return domain + "_data"
}

// InputFile returns the name of the address range file produced by discovery.
func InputFile(domain string) string {
	return "All_" + domain + "_IP_Range.txt"
}

// InputPath is the scanner input, relative to the pipeline base directory.
// It always uses a forward slash, the form passed to the scanner.
func InputPath(domain string) string {
	return WorkingFolder(domain) + "/" + InputFile(domain)
}
