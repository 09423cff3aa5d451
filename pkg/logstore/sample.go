package logstore

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// DefaultServices is the Online Boutique service catalog used by the sample corpus.
var DefaultServices = []string{
	"frontend", "cartservice", "productcatalogservice", "recommendationservice",
	"shippingservice", "checkoutservice", "paymentservice", "currencyservice",
	"adservice", "emailservice", "loadgenerator",
}

var sampleMessages = map[Severity][]string{
	SeverityError: {
		"Database connection failed: timeout after 30 seconds",
		"Payment processing error: invalid credit card format",
		"Shipping service unavailable: external API rate limit exceeded",
		"Product catalog service error: failed to load product data",
		"Checkout process error: inventory validation failed",
		"Currency conversion error: invalid exchange rate",
		"Email service error: SMTP server connection refused",
	},
	SeverityWarning: {
		"High memory usage detected: 85% of allocated memory",
		"Slow response time: 2.5 seconds average response time",
		"Database connection pool nearly exhausted",
		"Cache hit rate below threshold: 60%",
		"Network latency spike detected",
		"CPU usage above normal: 75%",
	},
	SeverityInfo: {
		"User session started successfully",
		"Product recommendation generated",
		"Payment processed successfully",
		"Order shipped to customer",
		"Cache refreshed successfully",
		"Health check passed",
	},
}

var sampleSummaries = map[Severity][]string{
	SeverityError: {
		"Critical database connectivity issue affecting payment processing",
		"External API rate limiting causing service degradation",
		"Resource exhaustion leading to service unavailability",
		"Network timeout causing transaction failures",
	},
	SeverityWarning: {
		"Performance degradation detected in service response times",
		"Resource utilization approaching critical thresholds",
		"Cache performance below expected levels",
	},
	SeverityInfo: {
		"Normal operation with successful user interactions",
		"Service functioning within expected parameters",
		"User activity processed without issues",
	},
}

// SampleConfig controls sample corpus generation.
type SampleConfig struct {
	// Count is the number of records to generate.
	Count int

	// Seed makes the corpus reproducible.
	Seed uint64

	// Now anchors the 24 hour window the timestamps fall in.
	Now time.Time

	// Services overrides DefaultServices when non-empty.
	Services []string
}

// GenerateSample builds a synthetic corpus: severities weighted ERROR 10%,
// WARNING 20%, INFO 70%, timestamps spread over the 24 hours before Now.
// IDs run from 1 to Count.
func GenerateSample(cfg SampleConfig) []Record {
	services := cfg.Services
	if len(services) == 0 {
		services = DefaultServices
	}
	now := cfg.Now.UTC()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	records := make([]Record, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		service := services[rng.IntN(len(services))]

		var severity Severity
		switch p := rng.Float64(); {
		case p < 0.1:
			severity = SeverityError
		case p < 0.3:
			severity = SeverityWarning
		default:
			severity = SeverityInfo
		}

		offset := time.Duration(rng.Int64N(int64(24 * time.Hour)))
		ts := now.Add(-offset).Truncate(time.Second)

		messages := sampleMessages[severity]
		summaries := sampleSummaries[severity]
		message := messages[rng.IntN(len(messages))]

		records = append(records, Record{
			ID:         int64(i + 1),
			Service:    service,
			Severity:   severity,
			Timestamp:  ts,
			RawMessage: fmt.Sprintf("[%s] %s %s: %s", ts.Format(time.RFC3339), severity, service, message),
			Summary:    fmt.Sprintf("%s in %s", summaries[rng.IntN(len(summaries))], service),
		})
	}

	return records
}
