// event-seeder generates signed lifecycle events and POSTs them to a running
// identity-sub instance. Useful for load testing the pipeline and for
// exercising the retry and quarantine paths against realistic data.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/btall/core-africare-identity-sub001/internal/verifier"
)

var (
	targetURL  = flag.String("url", "http://localhost:8094", "identity-sub base URL")
	secret     = flag.String("secret", "", "webhook signing secret (required)")
	count      = flag.Int("count", 100, "number of events to send")
	interval   = flag.Duration("interval", 100*time.Millisecond, "interval between events")
	eventTypes = flag.String("types", "register,update,delete,merge", "comma-separated event types to generate")
	clientIDs  = flag.String("clients", "patient-portal,clinic-admin,mobile-app", "comma-separated client ids to send as")
	timeSpread = flag.Duration("time-spread", time.Hour, "spread event timestamps over this period (0 for now)")
)

type envelope struct {
	Type     string                 `json:"type"`
	ClientID string                 `json:"client_id"`
	Data     map[string]interface{} `json:"data"`
}

func main() {
	flag.Parse()

	if *secret == "" {
		log.Fatal("Signing secret is required. Use -secret flag")
	}

	gofakeit.Seed(time.Now().UnixNano())

	types := strings.Split(*eventTypes, ",")
	clients := strings.Split(*clientIDs, ",")

	log.Printf("Starting event seeder:")
	log.Printf("  Target: %s", *targetURL)
	log.Printf("  Event count: %d", *count)
	log.Printf("  Interval: %v", *interval)
	log.Printf("  Event types: %v", types)
	log.Printf("  Clients: %v", clients)

	client := &http.Client{Timeout: 10 * time.Second}

	successCount := 0
	filteredCount := 0
	failCount := 0

	for i := 0; i < *count; i++ {
		eventType := types[rand.Intn(len(types))]
		clientID := clients[rand.Intn(len(clients))]

		body, err := json.Marshal(generateEvent(eventType, clientID))
		if err != nil {
			log.Fatalf("Failed to marshal event: %v", err)
		}

		status, filtered, err := send(client, body)
		switch {
		case err != nil:
			log.Printf("Send failed: %v", err)
			failCount++
		case status != http.StatusAccepted:
			log.Printf("Rejected with status %d", status)
			failCount++
		case filtered:
			filteredCount++
		default:
			successCount++
			if successCount%50 == 0 {
				log.Printf("Progress: %d/%d events sent", successCount, *count)
			}
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	log.Printf("Seeding complete:")
	log.Printf("  Accepted: %d events", successCount)
	log.Printf("  Filtered: %d events", filteredCount)
	log.Printf("  Failed: %d events", failCount)
}

func generateEvent(eventType, clientID string) envelope {
	userID := "usr-" + gofakeit.UUID()

	var data map[string]interface{}
	switch eventType {
	case "update":
		data = map[string]interface{}{
			"user_id": userID,
			"email":   gofakeit.Email(),
			"phone":   gofakeit.Phone(),
		}
	case "delete":
		data = map[string]interface{}{
			"user_id": userID,
			"reason":  "user requested erasure",
		}
	case "merge":
		data = map[string]interface{}{
			"user_id":        userID,
			"merged_into_id": "usr-" + gofakeit.UUID(),
		}
	default:
		data = map[string]interface{}{
			"user_id":   userID,
			"email":     gofakeit.Email(),
			"full_name": gofakeit.Name(),
			"phone":     gofakeit.Phone(),
			"locale":    gofakeit.LanguageAbbreviation(),
		}
	}

	return envelope{Type: eventType, ClientID: clientID, Data: data}
}

func send(client *http.Client, body []byte) (status int, filtered bool, err error) {
	ts := time.Now()
	if *timeSpread > 0 {
		ts = ts.Add(-time.Duration(rand.Int63n(int64(*timeSpread))))
	}
	epoch := ts.Unix()

	req, err := http.NewRequest(http.MethodPost, *targetURL+"/webhooks/identity", bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", strconv.FormatInt(epoch, 10))
	req.Header.Set("X-Signature", verifier.Sign(*secret, epoch, body))

	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return resp.StatusCode, false, nil
	}

	var parsed map[string]string
	if err := json.Unmarshal(respBody, &parsed); err == nil && parsed["status"] == "filtered" {
		return resp.StatusCode, true, nil
	}
	return resp.StatusCode, false, nil
}
