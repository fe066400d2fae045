package usage

import (
	"testing"
	"time"
)

func TestEncodeCursorRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 10, 9, 15, 0, 123456789, time.UTC)
	id := "9f1c2d3e-4b5a-6789-abcd-ef0123456789"

	cursor := encodeCursor(ts, id)
	if cursor == "" {
		t.Fatal("expected non-empty cursor")
	}

	gotTime, gotID, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("unexpected error decoding cursor: %v", err)
	}
	if !gotTime.Equal(ts) {
		t.Errorf("time mismatch: got %v, want %v", gotTime, ts)
	}
	if gotID != id {
		t.Errorf("id mismatch: got %q, want %q", gotID, id)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"invalid base64", "not-valid-base64!!!"},
		{"missing separator", "bm9waXBl"}, // "nopipe"
		{"bad timestamp", "YmFkLXRpbWV8c29tZS1pZA"}, // "bad-time|some-id"
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := decodeCursor(tt.cursor); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBuildWhereClause(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		q         Query
		wantWhere string
		wantArgs  int
	}{
		{
			name:      "empty query",
			q:         Query{},
			wantWhere: "",
			wantArgs:  0,
		},
		{
			name:      "org only",
			q:         Query{OrganizationID: "org-1"},
			wantWhere: " WHERE organization_id = $1",
			wantArgs:  1,
		},
		{
			name:      "org and feature",
			q:         Query{OrganizationID: "org-1", Feature: "summarization"},
			wantWhere: " WHERE organization_id = $1 AND feature = $2",
			wantArgs:  2,
		},
		{
			name:      "all filters",
			q:         Query{OrganizationID: "org-1", Feature: "sentiment", From: from, To: to},
			wantWhere: " WHERE organization_id = $1 AND feature = $2 AND timestamp >= $3 AND timestamp <= $4",
			wantArgs:  4,
		},
		{
			name:      "time range only",
			q:         Query{From: from},
			wantWhere: " WHERE timestamp >= $1",
			wantArgs:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildWhereClause(tt.q)
			if where != tt.wantWhere {
				t.Errorf("where: got %q, want %q", where, tt.wantWhere)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args: got %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}
