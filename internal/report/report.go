// Package report summarizes an access log written by the gateway.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klyr/edgerewrite/internal/logging"
)

const topN = 5

type Summary struct {
	Total        int            `json:"total"`
	ShortCircuit int            `json:"short_circuit"`
	Proxied      int            `json:"proxied"`
	RewriteRoute int            `json:"rewrite_routed"`
	Rewritten    int            `json:"rewritten"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	Statuses     []CountItem    `json:"statuses"`
	Passthroughs []CountItem    `json:"passthroughs"`
	TopRules     []CountItem    `json:"top_rules"`
	TopErrors    []CountItem    `json:"top_rule_errors"`
	TopHosts     []CountItem    `json:"top_hosts"`
	Latency      LatencySummary `json:"latency"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Reader loads access records, skipping those older than Since.
type Reader struct {
	Since time.Time
}

func (r *Reader) Read(path string) ([]logging.AccessRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return r.Decode(file)
}

func (r *Reader) Decode(in io.Reader) ([]logging.AccessRecord, error) {
	var records []logging.AccessRecord
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec logging.AccessRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !r.Since.IsZero() && rec.Timestamp.Before(r.Since) {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func Summarize(records []logging.AccessRecord) Summary {
	var summary Summary
	if len(records) == 0 {
		return summary
	}

	summary.Start = records[0].Timestamp
	summary.End = records[0].Timestamp

	statusCounts := map[string]int{}
	passthroughCounts := map[string]int{}
	ruleCounts := map[string]int{}
	errorCounts := map[string]int{}
	hostCounts := map[string]int{}
	latencies := make([]int64, 0, len(records))

	for _, rec := range records {
		summary.Total++
		if rec.Timestamp.Before(summary.Start) {
			summary.Start = rec.Timestamp
		}
		if rec.Timestamp.After(summary.End) {
			summary.End = rec.Timestamp
		}

		switch rec.Action {
		case "short_circuit":
			summary.ShortCircuit++
		case "proxy":
			summary.Proxied++
		case "rewrite":
			summary.RewriteRoute++
		}
		if rec.Rewritten {
			summary.Rewritten++
		}

		statusCounts[statusClass(rec.StatusCode)]++
		if rec.Passthrough != "" {
			passthroughCounts[rec.Passthrough]++
		}
		for _, rc := range rec.RulesApplied {
			ruleCounts[rc.ID] += rc.Count
		}
		for _, rc := range rec.RuleErrors {
			errorCounts[rc.ID] += rc.Count
		}
		if rec.Host != "" {
			hostCounts[rec.Host]++
		}

		latencies = append(latencies, rec.DurationMS)
	}

	summary.Statuses = sortedCounts(statusCounts, 0)
	summary.Passthroughs = sortedCounts(passthroughCounts, 0)
	summary.TopRules = sortedCounts(ruleCounts, topN)
	summary.TopErrors = sortedCounts(errorCounts, topN)
	summary.TopHosts = sortedCounts(hostCounts, topN)
	summary.Latency = latencySummary(latencies)

	return summary
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	if code == 499 {
		return "499"
	}
	return fmt.Sprintf("%dxx", code/100)
}

// sortedCounts orders by count, then key. n <= 0 keeps every item.
func sortedCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "Short-circuited: %d\n", summary.ShortCircuit)
	fmt.Fprintf(&b, "Proxied unmodified: %d\n", summary.Proxied)
	fmt.Fprintf(&b, "Routed for rewrite: %d (rewritten %d)\n", summary.RewriteRoute, summary.Rewritten)
	fmt.Fprintf(&b, "Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCounts(&b, "Status classes", summary.Statuses)
	writeCounts(&b, "Passthrough reasons", summary.Passthroughs)
	writeCounts(&b, "Top rules applied", summary.TopRules)
	writeCounts(&b, "Top rule errors", summary.TopErrors)
	writeCounts(&b, "Top hosts", summary.TopHosts)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Edge Rewrite Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Short-circuited: %d\n", summary.ShortCircuit)
	fmt.Fprintf(&b, "- Proxied unmodified: %d\n", summary.Proxied)
	fmt.Fprintf(&b, "- Routed for rewrite: %d (rewritten %d)\n", summary.RewriteRoute, summary.Rewritten)
	fmt.Fprintf(&b, "- Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCountsMarkdown(&b, "Status classes", summary.Statuses)
	writeCountsMarkdown(&b, "Passthrough reasons", summary.Passthroughs)
	writeCountsMarkdown(&b, "Top rules applied", summary.TopRules)
	writeCountsMarkdown(&b, "Top rule errors", summary.TopErrors)
	writeCountsMarkdown(&b, "Top hosts", summary.TopHosts)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

// WriteOutput writes content to path, or to stdout when path is empty.
func WriteOutput(stdout io.Writer, path string, content []byte) error {
	if path == "" {
		_, err := stdout.Write(content)
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
