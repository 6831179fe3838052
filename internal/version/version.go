package version

import (
	"fmt"
	"runtime"
)

// Version is stamped into every saved document's watermark.
const Version = "v0.4.0"

// UserAgent returns the default User-Agent sent with every request.
func UserAgent() string {
	return fmt.Sprintf("webmirror/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
