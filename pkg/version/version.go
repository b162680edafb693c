package version

// Version is the build's version, set with
// -ldflags "-X github.com/shishobooks/spines/pkg/version.Version=1.0.0".
var Version = "dev"
