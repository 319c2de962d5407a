package gatekeeper

import "strings"

// Signatures of clients that are allowed to pull scripts. A request must
// match at least one of these to pass the first filter.
var allowedClients = []string{
	"Roblox/WinInet", "RobloxStudio", "ROBLOX/",
	"Synapse/", "SynapseX", "KRNL/", "Krnl/",
	"fluxus", "Fluxus", "Script-Ware", "scriptware",
	"Oxygen U", "OxygenU", "Evon/", "Delta/", "Wave/",
	"Arceus X", "ArceusX", "Codex/", "Sentinel/", "MacSploit", "Electron/",
}

// Signatures of browsers and HTTP tooling. Checked after the allow-list so a
// spoofed identifier carrying both still gets rejected.
var deniedClients = []string{
	"Mozilla/5.0", "AppleWebKit", "Gecko/", "Chrome/", "Safari/",
	"Firefox/", "OPR/", "Trident/", "Edge/", "Edg/",
	"curl/", "wget/", "python-requests", "axios/", "node-fetch",
	"PostmanRuntime", "insomnia", "HTTPie", "Go-http-client", "Java/", "libwww-perl",
}

// AcceptFingerprint reports whether a declared client identifier looks like a
// legitimate executor rather than a browser or scripted tooling. Pure
// function, no state.
func AcceptFingerprint(id string, minLen int) bool {
	if len(id) < minLen {
		return false
	}
	if !containsAny(id, allowedClients) {
		return false
	}
	if containsAny(id, deniedClients) {
		return false
	}
	return true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
