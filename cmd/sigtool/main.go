package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/edgegate/edgegate/internal/signer"
)

// sigtool signs a request the way the gateway expects, for poking deployed
// environments by hand. Reads the payload from stdin when - is given.
func main() {
	secret := flag.String("secret", "", "shared HMAC secret")
	method := flag.String("method", "POST", "HTTP method")
	path := flag.String("path", "/v1/webhooks/test", "request path")
	payload := flag.String("payload", "", "request payload (use - for stdin)")
	ts := flag.Int64("timestamp", 0, "unix timestamp (default now)")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "sigtool: -secret is required")
		os.Exit(1)
	}

	body := *payload
	if body == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sigtool: read stdin: %v\n", err)
			os.Exit(1)
		}
		body = string(raw)
	}

	when := *ts
	if when == 0 {
		when = time.Now().Unix()
	}

	sig := signer.Sign(*secret, *method, *path, body, when)

	fmt.Printf("x-signature: %s\n", sig)
	fmt.Printf("x-timestamp: %d\n", when)
	fmt.Println()
	fmt.Printf("curl -X %s -H 'x-signature: %s' -H 'x-timestamp: %d' -d '%s' <base-url>%s\n",
		*method, sig, when, body, *path)
}
