package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = SemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// SemVer is the current version of the shared mempool node.
	// Must be a string because scripts like dist.sh read this file.
	SemVer = "0.1.0"
)

// Protocol is used for implementation agnostic versioning.
type Protocol uint64

// Uint64 returns the Protocol version as a uint64.
func (p Protocol) Uint64() uint64 {
	return uint64(p)
}

// BroadcastProtocol versions the broadcast batch and acknowledgement
// messages exchanged between peers.
var BroadcastProtocol Protocol = 1
