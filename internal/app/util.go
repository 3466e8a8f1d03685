package app

// shortID trims long identifiers (digests, wallets) for log lines.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:8] + "…" + id[len(id)-4:]
}
