package utils

// Set on builds with -ldflags "-X github.com/alexgQQ/imagehash/utils.Version=..."
// it doesn't seem to work when packaged with main so it lives here instead

var (
	Version = ""
	Branch  = "dev"
	Commit  = ""
)

func VersionString() string {
	if Version == "" {
		return Branch
	}
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
