package version

// Version is the current version of recomp.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.2.0"

// Name is the application name.
const Name = "recomp"

// Description is a short description of the application.
const Description = "Redshift column encoding analyzer and migrator"
