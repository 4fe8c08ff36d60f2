package advisory

import (
	"fmt"
	"math/rand"
)

var (
	platforms = []string{
		"Windows NT 10.0; Win64; x64",
		"Macintosh; Intel Mac OS X 10_15_7",
		"X11; Linux x86_64",
		"X11; Ubuntu; Linux x86_64",
	}
	chromeVersions  = []string{"122.0.6261.94", "123.0.6312.86", "124.0.6367.91", "125.0.6422.60", "126.0.6478.126"}
	firefoxVersions = []string{"123.0", "124.0", "125.0", "126.0", "127.0"}
)

// RandomUserAgent returns a browser-like User-Agent string, different on most calls.
func RandomUserAgent() string {
	platform := platforms[rand.Intn(len(platforms))]
	if rand.Intn(2) == 0 {
		v := firefoxVersions[rand.Intn(len(firefoxVersions))]
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:%s) Gecko/20100101 Firefox/%s", platform, v, v)
	}
	v := chromeVersions[rand.Intn(len(chromeVersions))]
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", platform, v)
}
