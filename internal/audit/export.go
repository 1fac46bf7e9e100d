package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports entries as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports entries as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures audit trail export parameters.
type ExportOptions struct {
	Format  ExportFormat // Export format (csv or json)
	From    time.Time    // Start of time range (inclusive)
	To      time.Time    // End of time range (inclusive)
	ActorID string       // Filter by actor (optional)
	Limit   int          // Maximum number of entries to export (0 = no limit)
}

// Export renders audit entries matching opts in the requested format.
func Export(ctx context.Context, repo Repository, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	// Query without limit first so the time filter sees everything, then
	// cut down to the requested size.
	var (
		entries []*Entry
		err     error
	)
	if opts.ActorID != "" {
		entries, err = repo.QueryByActor(ctx, opts.ActorID, 0)
		if err == nil && (!opts.From.IsZero() || !opts.To.IsZero()) {
			entries = filterByTimeRange(entries, opts.From, opts.To)
		}
	} else {
		entries, err = repo.QueryRange(ctx, opts.From, opts.To, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(entries)
	case ExportFormatJSON:
		return exportToJSON(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}
}

// filterByTimeRange keeps only entries within [from, to].
func filterByTimeRange(entries []*Entry, from, to time.Time) []*Entry {
	var filtered []*Entry
	for _, e := range entries {
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// exportToCSV renders entries as CSV. Nested before/after states are
// embedded as JSON in their columns.
func exportToCSV(entries []*Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID",
		"Timestamp (UTC)",
		"Actor ID",
		"Actor Roles",
		"Action",
		"Target Type",
		"Target ID",
		"Before",
		"After",
		"Justification",
		"Flagged",
		"Flag Reason",
		"Request ID",
		"Previous Hash",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		before, err := marshalState(e.Before)
		if err != nil {
			return nil, err
		}
		after, err := marshalState(e.After)
		if err != nil {
			return nil, err
		}
		row := []string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			e.ActorID,
			strings.Join(e.ActorRoles, ";"),
			string(e.Action),
			string(e.TargetType),
			e.TargetID,
			before,
			after,
			e.Justification,
			fmt.Sprintf("%t", e.IsFlagged),
			e.FlagReason,
			e.RequestID,
			e.PrevHash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func marshalState(state map[string]any) (string, error) {
	if len(state) == 0 {
		return "", nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return string(data), nil
}

// exportToJSON renders entries as an indented JSON array.
func exportToJSON(entries []*Entry) ([]byte, error) {
	type exportEntry struct {
		ID            string         `json:"id"`
		Timestamp     string         `json:"timestamp"`
		ActorID       string         `json:"actor_id"`
		ActorRoles    []string       `json:"actor_roles"`
		Action        string         `json:"action"`
		TargetType    string         `json:"target_type"`
		TargetID      string         `json:"target_id"`
		Before        map[string]any `json:"before,omitempty"`
		After         map[string]any `json:"after,omitempty"`
		Justification string         `json:"justification,omitempty"`
		IsFlagged     bool           `json:"is_flagged"`
		FlagReason    string         `json:"flag_reason,omitempty"`
		RequestID     string         `json:"request_id,omitempty"`
		PrevHash      string         `json:"prev_hash,omitempty"`
	}

	out := make([]exportEntry, len(entries))
	for i, e := range entries {
		out[i] = exportEntry{
			ID:            e.ID,
			Timestamp:     e.CreatedAt.Format(time.RFC3339),
			ActorID:       e.ActorID,
			ActorRoles:    e.ActorRoles,
			Action:        string(e.Action),
			TargetType:    string(e.TargetType),
			TargetID:      e.TargetID,
			Before:        e.Before,
			After:         e.After,
			Justification: e.Justification,
			IsFlagged:     e.IsFlagged,
			FlagReason:    e.FlagReason,
			RequestID:     e.RequestID,
			PrevHash:      e.PrevHash,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return data, nil
}
