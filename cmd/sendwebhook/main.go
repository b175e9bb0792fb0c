// sendwebhook signs a payload the way the providers do and POSTs it to a
// local ingestion endpoint. Useful for exercising the pipeline without real
// provider traffic.
//
//	sendwebhook -secret whsec_dev -source identity-provider \
//	    -event-id evt_123 -type verification.completed \
//	    -tenant tenant-a -resource venue_1
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/venuehq/webhook-ingestion/internal/verify"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "ingestion service base URL")
		source   = flag.String("source", "identity-provider", "webhook source")
		secret   = flag.String("secret", "", "signing secret (required)")
		file     = flag.String("file", "", "read the payload from a file instead of building one")
		eventID  = flag.String("event-id", "", "event id (required unless -file)")
		evType   = flag.String("type", "verification.completed", "event type")
		tenantID = flag.String("tenant", "", "claimed tenant id")
		resource = flag.String("resource", "", "referenced resource")
		skew     = flag.Duration("skew", 0, "offset applied to the signature timestamp (for testing staleness)")
	)
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "-secret is required")
		os.Exit(2)
	}

	var body []byte
	var err error
	if *file != "" {
		body, err = os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading payload file: %v\n", err)
			os.Exit(1)
		}
	} else {
		if *eventID == "" {
			fmt.Fprintln(os.Stderr, "-event-id is required without -file")
			os.Exit(2)
		}
		body, err = json.Marshal(map[string]any{
			"id":        *eventID,
			"type":      *evType,
			"tenant_id": *tenantID,
			"resource":  *resource,
			"data": map[string]any{
				"object": map[string]any{"id": *resource},
			},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "building payload: %v\n", err)
			os.Exit(1)
		}
	}

	ts := time.Now().Add(*skew).Unix()
	endpoint := fmt.Sprintf("%s/webhooks/%s", *baseURL, *source)

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "building request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", verify.SignatureHeader(*secret, ts, body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sending webhook: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("%s %s\n%s\n", resp.Status, endpoint, respBody)
}
