package models

// RuntimeInfo describes the server settings a client needs to reach it.
type RuntimeInfo struct {
	HTTPBaseURL string `json:"http_base_url"`
	WSBaseURL   string `json:"ws_base_url"`
	Port        int    `json:"port"`
	// Backend is the default file system backend ("direct" or "shell").
	Backend  string `json:"backend"`
	Remote   bool   `json:"remote"`
	Watching bool   `json:"watching"`
}
