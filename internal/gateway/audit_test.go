package gateway

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestAuditLogBounded(t *testing.T) {
	log := newAuditLog(3, nil)
	for i := 0; i < 5; i++ {
		log.add(auditEntry{Path: "/v1/users/" + strconv.Itoa(i), Status: http.StatusOK})
	}
	entries := log.list()
	if len(entries) != 3 {
		t.Fatalf("expected window of 3, got %d", len(entries))
	}
	if entries[0].Path != "/v1/users/2" || entries[2].Path != "/v1/users/4" {
		t.Fatalf("expected oldest entries evicted, got %v", entries)
	}
}

func TestFileAuditSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log := newAuditLog(10, NewFileAuditSink(path))

	log.add(auditEntry{Time: time.Now().UTC(), RequestID: "r1", Method: http.MethodGet, Path: "/v1/users", Status: 200})
	log.add(auditEntry{Time: time.Now().UTC(), RequestID: "r2", Method: http.MethodPost, Path: "/v1/users", Status: 201})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var lines []auditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry auditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("parse audit line: %v", err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lines))
	}
	if lines[0].RequestID != "r1" || lines[1].Status != 201 {
		t.Fatalf("unexpected entries: %+v", lines)
	}
}
