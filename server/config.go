package server

// Config is the external, read-only-per-session configuration
// collaborator named in spec.md §3/§6. It is loaded once (by cmd/ftpd, or
// by an embedder) and copied into the Server. SITE USER, SITE PASS and
// SITE PORT overwrite fields of the Server's copy in place; SITE SAVE
// replies success and persists nothing.
type Config struct {
	// User is the required username. Empty means any user is accepted.
	User string
	// Pass is the required password. Empty means no password is required.
	Pass string
	// Port is the TCP port the Server listens on.
	Port int

	// AllowPrivilegedPort permits binding to a port < 1024. Some
	// platforms disallow this; the server refuses such a Port unless
	// the toggle is set.
	AllowPrivilegedPort bool

	// GetMTime is carried in Config but the listing code does not read
	// it: MLSD/MLST report modification times whenever the Modify fact
	// is enabled, whatever this field says.
	GetMTime bool

	// BandwidthLimit is an aggregate bytes/sec figure across all
	// sessions. It is stored here only; no transfer pump applies it.
	BandwidthLimit int64
	// BandwidthLimitPerSession caps the rate at which one session sends
	// RETR data, in bytes/sec. 0 means unlimited. STOR/APPE uploads and
	// directory listings are not limited.
	BandwidthLimitPerSession int64

	// PasvPortLo/PasvPortHi bound the port pool PASV/EPSV allocate from.
	// Per spec.md §4.6.4, the default pool is [5001, 10000).
	PasvPortLo int
	PasvPortHi int
}

// DefaultConfig returns the Config used when a caller supplies none.
func DefaultConfig() Config {
	return Config{
		Port:       21,
		GetMTime:   true,
		PasvPortLo: 5001,
		PasvPortHi: 10000,
	}
}
