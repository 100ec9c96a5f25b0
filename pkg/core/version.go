package core

import "fmt"

// Version is the SDK version, overridable at build time with
// -ldflags "-X github.com/privlens/sdk/pkg/core.Version=x.y.z".
var Version = "0.4.0"

// UserAgent returns the User-Agent string sent with every API request.
func UserAgent() string {
	return fmt.Sprintf("privlens-go/%s", Version)
}
