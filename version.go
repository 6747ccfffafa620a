package firebolt

import (
	"fmt"
	"runtime"
)

// Version is the version of this SDK, reported to the API through the
// User-Agent header.
const Version = "0.5.0"

var userAgent = fmt.Sprintf("GoSDK/%s (Go %s; %s)", Version, runtime.Version(), runtime.GOOS)
